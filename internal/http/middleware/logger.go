package middleware

import (
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"cgiserver/internal/logger"
)

// Logger logs each HTTP request as one JSON line through l with fields:
// - request_id (taken from context locals set by RequestID middleware)
// - method
// - path
// - status
// - latency (in milliseconds, as float)
// - remote_addr
func Logger(l *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := statusOf(c, err)
		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelError
		}

		l.Log(c.UserContext(), level, "http_request",
			"request_id", RequestIDFromCtx(c),
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", float64(time.Since(start).Microseconds())/1000,
			"remote_addr", c.IP(),
		)

		return err
	}
}

// LoggerWithWriter is Logger with a JSON logger writing to w, timestamps in loc.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return Logger(logger.NewJSON(w, slog.LevelInfo, loc))
}
