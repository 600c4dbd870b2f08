package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMiddleware records request counts, latency and concurrency.
type PrometheusMiddleware struct {
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	skipPath        string
}

// NewPrometheusMiddleware registers the HTTP collectors on reg. Registering twice on one
// registry fails. skipPath is excluded from every collector, normally the metrics endpoint.
func NewPrometheusMiddleware(reg prometheus.Registerer, skipPath string) (*PrometheusMiddleware, error) {
	m := &PrometheusMiddleware{
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time from the first middleware to the response, scripts included.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served.",
		}),
		skipPath: skipPath,
	}

	for _, c := range []prometheus.Collector{m.requestCount, m.requestDuration, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the fiber middleware handler.
func (m *PrometheusMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.skipPath != "" && c.Path() == m.skipPath {
			return c.Next()
		}

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		err := c.Next()

		// Label by route pattern; every script shares "/*".
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		method := c.Method()

		m.requestCount.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
