package cgiexec

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records script executions.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewMetrics registers the CGI collectors on reg. Registering twice on the same registry
// returns the collectors that are already there.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cgi_executions_total",
				Help: "Total number of CGI script executions by response status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cgi_execution_duration_seconds",
			Help:    "Wall time spent running CGI scripts.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if err := reg.Register(m.executions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.executions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.duration = are.ExistingCollector.(prometheus.Histogram)
	}
	return m, nil
}

// Observe records one execution that finished with status after d.
func (m *Metrics) Observe(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(strconv.Itoa(status)).Inc()
	m.duration.Observe(d.Seconds())
}
