package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cgiserver/internal/cgiexec"
)

// Dispatcher serves the document root: scripts are executed, everything else is served as
// files or directory listings.
type Dispatcher struct {
	resolver *cgiexec.Resolver
	runner   *cgiexec.Runner
	metrics  *cgiexec.Metrics
	logger   *slog.Logger
	browse   fiber.Handler
}

// NewDispatcher wires a resolver and runner into a fiber handler. metrics may be nil.
func NewDispatcher(res *cgiexec.Resolver, run *cgiexec.Runner, metrics *cgiexec.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		resolver: res,
		runner:   run,
		metrics:  metrics,
		logger:   logger,
		browse: filesystem.New(filesystem.Config{
			Root:   http.Dir(res.Root()),
			Browse: true,
			Index:  "/index.html",
		}),
	}
}

// Root returns the absolute document root.
func (d *Dispatcher) Root() string {
	return d.resolver.Root()
}

// Handle is the catch-all route handler.
func (d *Dispatcher) Handle(c *fiber.Ctx) error {
	method := c.Method()
	switch method {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodPost:
	default:
		return writeError(c, fiber.StatusNotImplemented, "NOT_IMPLEMENTED", "unsupported method ("+method+")")
	}

	// fiber leaves the path escaped; decode before collapsing so "%2e%2e" cannot climb.
	reqPath, err := url.PathUnescape(c.Path())
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "malformed request path")
	}

	target, err := d.resolver.Resolve(reqPath)
	switch {
	case errors.Is(err, cgiexec.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "no such file or script")
	case errors.Is(err, cgiexec.ErrNotPlainFile), errors.Is(err, cgiexec.ErrNotExecutable):
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", errors.Unwrap(err).Error())
	case err != nil:
		d.logger.ErrorContext(c.UserContext(), "resolve_failed", "path", reqPath, "error", err)
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}

	if target.Kind == cgiexec.KindScript {
		return d.runScript(c, target)
	}

	if method == fiber.MethodPost {
		return writeError(c, fiber.StatusNotImplemented, "NOT_IMPLEMENTED", "can only POST to CGI scripts")
	}

	if target.Kind == cgiexec.KindDirectory {
		if !strings.HasSuffix(reqPath, "/") {
			loc := c.Path() + "/"
			if q := string(c.Request().URI().QueryString()); q != "" {
				loc += "?" + q
			}
			return c.Redirect(loc, fiber.StatusMovedPermanently)
		}
		// The filesystem middleware opens c.Path() as is, so hand it the decoded directory.
		dir := target.URLPath
		if dir != "/" {
			dir += "/"
		}
		c.Path(dir)
		return d.browse(c)
	}
	return c.SendFile(target.FilePath)
}

func (d *Dispatcher) runScript(c *fiber.Ctx, target cgiexec.Target) error {
	h, err := d.runner.Handler(target)
	if err != nil {
		d.logger.ErrorContext(c.UserContext(), "cgi_setup_failed", "script", target.ScriptName, "error", err)
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}

	span := trace.SpanFromContext(c.UserContext())
	span.SetAttributes(
		attribute.String("cgi.script_name", target.ScriptName),
		attribute.String("cgi.path_info", target.PathInfo),
	)

	start := time.Now()
	if err := serveHTTP(c, h); err != nil {
		d.logger.ErrorContext(c.UserContext(), "cgi_request_failed", "script", target.ScriptName, "error", err)
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "bad request")
	}
	status := c.Response().StatusCode()
	d.metrics.Observe(status, time.Since(start))
	span.SetAttributes(attribute.Int("cgi.status", status))
	return nil
}

// serveHTTP runs a net/http handler against the fiber context. Unlike adaptor.HTTPHandler the
// request keeps c.UserContext(), so spans started by script execution join the request trace.
func serveHTTP(c *fiber.Ctx, h http.Handler) error {
	req, err := adaptor.ConvertRequest(c, true)
	if err != nil {
		return err
	}
	req = req.WithContext(c.UserContext())

	w := &responseWriter{c: c, header: make(http.Header)}
	h.ServeHTTP(w, req)
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return nil
}

// responseWriter writes an http.ResponseWriter's output into a fiber response.
type responseWriter struct {
	c           *fiber.Ctx
	header      http.Header
	wroteHeader bool
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	for k, vv := range w.header {
		for i, v := range vv {
			if i == 0 {
				w.c.Set(k, v)
			} else {
				w.c.Response().Header.Add(k, v)
			}
		}
	}
	w.c.Status(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.c.Write(p)
}
