package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterRoutes attaches the operational endpoints under opsPrefix and hands every other path
// to the CGI dispatcher.
func RegisterRoutes(app *fiber.App, opsPrefix string, g prometheus.Gatherer, d *Dispatcher) {
	ops := app.Group(opsPrefix)
	ops.Get("/healthz", LivenessProbe())
	ops.Get("/health", HealthCheck(d.Root()))
	ops.Get("/metrics", Metrics(g))

	app.All("/*", d.Handle)
}
