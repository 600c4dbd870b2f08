// Package logger builds the structured JSON logger shared by the server, the CGI runner and the
// HTTP middleware. Every line is one JSON object with "ts", "level" and "msg" keys.
package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"cgiserver/internal/config"
)

// TimeKey replaces slog's default "time" key.
const TimeKey = "ts"

// New creates the application logger described by cfg. The returned close func releases the
// rotating file writer, if any.
func New(cfg config.LogConfig, loc *time.Location) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Type {
	case config.LogTypeConsole, "":
		return NewJSON(os.Stdout, level, loc), func() error { return nil }, nil
	case config.LogTypeFile:
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("file path required for file logger")
		}
		w := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		return NewJSON(w, level, loc), w.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log type: %s", cfg.Type)
	}
}

// NewJSON returns a JSON logger writing to w with timestamps rendered in loc.
func NewJSON(w io.Writer, level slog.Leveler, loc *time.Location) *slog.Logger {
	if loc == nil {
		loc = time.UTC
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(TimeKey, a.Value.Time().In(loc).Format(time.RFC3339Nano))
			}
			if len(groups) == 0 && a.Key == slog.LevelKey {
				return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return slog.New(h)
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", level)
	}
}

// LineWriter adapts a logger to an io.Writer, emitting one record per line. A trailing partial
// line is held until its newline arrives or Close is called. It is used for CGI script stderr.
type LineWriter struct {
	Logger *slog.Logger
	Level  slog.Level
	Msg    string
	Attrs  []any

	mu      sync.Mutex
	pending []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Close logs any buffered partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.emit(w.pending)
	w.pending = nil
	return nil
}

func (w *LineWriter) emit(line []byte) {
	s := strings.TrimRight(string(line), "\r")
	if s == "" {
		return
	}
	args := append([]any{"line", s}, w.Attrs...)
	w.Logger.Log(context.Background(), w.Level, w.Msg, args...)
}
