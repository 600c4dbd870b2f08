package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"cgiserver/internal/cgiexec"
	"cgiserver/internal/config"
	"cgiserver/internal/http/handler"
	"cgiserver/internal/http/middleware"
)

// Server is the CGI HTTP server: a fiber app bound to the configured address.
type Server struct {
	cfg    *config.AppConfig
	app    *fiber.App
	logger *slog.Logger
	// Out receives the startup banner. Defaults to os.Stdout.
	Out io.Writer
}

// StartupMessage is the line printed once the listener is bound.
func StartupMessage(port string) string {
	return fmt.Sprintf("CGI server at localhost:%s.", port)
}

// New builds the fiber app with its middleware chain and routes. reg collects both HTTP and
// CGI execution metrics and backs the metrics endpoint.
func New(cfg *config.AppConfig, logger *slog.Logger, reg *prometheus.Registry) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	resolver, err := cgiexec.NewResolver(cgiexec.ResolverOptions{
		Root:           cfg.CGI.Root,
		Directories:    cfg.CGI.Directories,
		Interpreters:   cfg.CGI.Interpreters,
		StaticFallback: cfg.CGI.StaticFallback,
	})
	if err != nil {
		return nil, err
	}
	runner := cgiexec.NewRunner(cgiexec.RunnerOptions{
		InheritEnv:     cfg.CGI.InheritEnv,
		ServerSoftware: cfg.CGI.ServerSoftware,
		Logger:         logger,
	})
	metrics, err := cgiexec.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register cgi metrics: %w", err)
	}
	prom, err := middleware.NewPrometheusMiddleware(reg, cfg.OpsPathPrefix+"/metrics")
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handler.ErrorHandler(),
		DisableStartupMessage: true,
		ServerHeader:          cfg.CGI.ServerSoftware,
	})

	// RequestID first so every later middleware and the scripts see the same ID
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(logger))
	app.Use(prom.Handler())

	handler.RegisterRoutes(app, cfg.OpsPathPrefix, reg, handler.NewDispatcher(resolver, runner, metrics, logger))

	return &Server{cfg: cfg, app: app, logger: logger, Out: os.Stdout}, nil
}

// App exposes the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run binds the configured address and serves until ctx is cancelled. A bind failure is
// returned before anything is printed.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve prints the startup message and serves on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	port := s.cfg.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = strconv.Itoa(addr.Port)
	}
	fmt.Fprintln(s.Out, StartupMessage(port))
	s.logger.Info("server_started",
		"addr", ln.Addr().String(),
		"cgi_root", s.cfg.CGI.Root,
		"cgi_directories", s.cfg.CGI.Directories,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server_stopping", "timeout", s.cfg.ShutdownTimeout().String())
	if err := s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	s.logger.Info("server_stopped")
	return nil
}
