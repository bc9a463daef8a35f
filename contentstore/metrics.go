package contentstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts backend operations.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg yields a nil
// *Metrics, which observes nothing.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapyledger",
			Subsystem: "contentstore",
			Name:      "backend_operations_total",
			Help:      "Content store backend operations by outcome",
		}, []string{"backend", "op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "therapyledger",
			Subsystem: "contentstore",
			Name:      "backend_latency_seconds",
			Help:      "Latency of content store backend operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
	}
	reg.MustRegister(m.operations, m.latency)
	return m
}

func (m *Metrics) ObserveOperation(backend, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(backend, op, outcome).Inc()
	m.latency.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}
