package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Monitor observes one engine operation per call. Implementations must be
// safe for concurrent use.
type Monitor interface {
	Observe(op, collection string, elapsed time.Duration, err error)
}

type nopMonitor struct{}

func (nopMonitor) Observe(string, string, time.Duration, error) {}

// PrometheusMonitor records engine operations as Prometheus counters and
// duration histograms, labeled by operation, collection and outcome.
type PrometheusMonitor struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMonitor registers the engine metrics on reg and returns the
// monitor. A nil reg uses the default registerer.
func NewPrometheusMonitor(reg prometheus.Registerer) *PrometheusMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMonitor{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monsoon_engine_operations_total",
			Help: "Engine operations by operation, collection and status.",
		}, []string{"op", "collection", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monsoon_engine_operation_duration_seconds",
			Help:    "Engine operation latency by operation and collection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "collection"}),
	}
	reg.MustRegister(m.ops, m.duration)
	return m
}

func (m *PrometheusMonitor) Observe(op, collection string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(op, collection, status).Inc()
	m.duration.WithLabelValues(op, collection).Observe(elapsed.Seconds())
}
