package cgiexec

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cgi"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cgiserver/internal/logger"
)

// InheritAll passes the server's whole environment to scripts.
const InheritAll = "*"

// metaVariables are set per request and must never be taken from the server environment.
var metaVariables = map[string]struct{}{
	"AUTH_TYPE": {}, "CONTENT_LENGTH": {}, "CONTENT_TYPE": {}, "GATEWAY_INTERFACE": {},
	"PATH_INFO": {}, "PATH_TRANSLATED": {}, "QUERY_STRING": {}, "REMOTE_ADDR": {},
	"REMOTE_HOST": {}, "REMOTE_PORT": {}, "REMOTE_USER": {}, "REQUEST_METHOD": {},
	"REQUEST_URI": {}, "SCRIPT_FILENAME": {}, "SCRIPT_NAME": {}, "SERVER_NAME": {},
	"SERVER_PORT": {}, "SERVER_PROTOCOL": {}, "SERVER_SOFTWARE": {}, "HTTPS": {},
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	// InheritEnv lists variable names copied from the server environment. InheritAll copies all.
	InheritEnv []string
	// ServerSoftware is exposed to scripts as SERVER_SOFTWARE.
	ServerSoftware string
	Logger         *slog.Logger
	// Stderr receives script stderr. Defaults to the logger, one record per line.
	Stderr io.Writer
}

// Runner executes resolved scripts.
type Runner struct {
	inheritAll     bool
	inherit        []string
	serverSoftware string
	logger         *slog.Logger
	stderr         io.Writer
}

// NewRunner returns a Runner configured by opts.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		serverSoftware: opts.ServerSoftware,
		logger:         opts.Logger,
		stderr:         opts.Stderr,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for _, name := range opts.InheritEnv {
		if name == InheritAll {
			r.inheritAll = true
			continue
		}
		if !inheritable(name) {
			continue
		}
		r.inherit = append(r.inherit, name)
	}
	return r
}

// Handler returns an http.Handler running the script described by t. Each request gets its own
// span named after the script.
func (r *Runner) Handler(t Target) (http.Handler, error) {
	if t.Kind != KindScript {
		return nil, fmt.Errorf("target %s is a %s, not a script", t.URLPath, t.Kind)
	}

	var prog string
	var args []string
	if t.Interpreter != "" {
		fields := strings.Fields(t.Interpreter)
		p, err := exec.LookPath(fields[0])
		if err != nil {
			return nil, fmt.Errorf("interpreter for %s: %w", t.ScriptName, err)
		}
		prog = p
		args = append(args, fields[1:]...)
		args = append(args, t.FilePath)
	} else {
		prog = t.FilePath
	}

	env := r.baseEnv()
	env = append(env,
		"SCRIPT_NAME="+t.ScriptName,
		"SCRIPT_FILENAME="+t.FilePath,
		"PATH_INFO="+t.PathInfo,
	)
	if t.PathTranslated != "" {
		env = append(env, "PATH_TRANSLATED="+t.PathTranslated)
	}
	if r.serverSoftware != "" {
		env = append(env, "SERVER_SOFTWARE="+r.serverSoftware)
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		stderr := r.stderr
		if stderr == nil {
			lw := &logger.LineWriter{
				Logger: r.logger,
				Level:  slog.LevelWarn,
				Msg:    "cgi_stderr",
				Attrs:  []any{"script", t.ScriptName},
			}
			// ServeHTTP waits for the process, so stderr is fully copied once it returns.
			defer lw.Close()
			stderr = lw
		}
		ch := &cgi.Handler{
			Path:       prog,
			Root:       t.ScriptName,
			Dir:        filepath.Dir(t.FilePath),
			Env:        env,
			InheritEnv: r.inherit,
			Args:       append(append([]string(nil), args...), indexArgs(req.URL.RawQuery)...),
			Logger:     slog.NewLogLogger(r.logger.Handler(), slog.LevelError),
			Stderr:     stderr,
		}
		r.logger.DebugContext(req.Context(), "cgi_exec",
			"script", t.ScriptName,
			"path", prog,
			"path_info", t.PathInfo,
		)
		ch.ServeHTTP(w, req)
	})

	return otelhttp.NewHandler(h, "cgi "+t.ScriptName), nil
}

// baseEnv returns the server variables handed to every script.
func (r *Runner) baseEnv() []string {
	if !r.inheritAll {
		return nil
	}
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !inheritable(name) {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// inheritable reports whether a server variable may reach scripts. Request headers and CGI
// meta variables always come from the request being served.
func inheritable(name string) bool {
	if strings.HasPrefix(name, "HTTP_") {
		return false
	}
	_, meta := metaVariables[name]
	return !meta
}

// indexArgs implements the ISINDEX convention: a query without "=" becomes command line
// arguments, split on "+".
func indexArgs(rawQuery string) []string {
	if rawQuery == "" || strings.Contains(rawQuery, "=") {
		return nil
	}
	var out []string
	for _, word := range strings.Split(rawQuery, "+") {
		if word == "" {
			continue
		}
		dec, err := url.PathUnescape(word)
		if err != nil {
			dec = word
		}
		out = append(out, dec)
	}
	return out
}
