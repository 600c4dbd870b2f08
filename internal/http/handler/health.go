package handler

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LivenessProbe answers 200 as long as the process serves requests.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// HealthCheck reports whether the document root is still a readable directory.
func HealthCheck(root string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := os.Open(root)
		if err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "document root unavailable")
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil || !fi.IsDir() {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "document root unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// Metrics exposes the registry in the Prometheus text format.
func Metrics(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
