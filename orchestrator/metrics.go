package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records submission outcomes and reconciliation progress.
type Metrics struct {
	submissions     *prometheus.CounterVec
	hashWait        prometheus.Histogram
	reconciliations *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg yields a nil
// *Metrics, which observes nothing.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapyledger",
			Subsystem: "orchestrator",
			Name:      "submissions_total",
			Help:      "Ledger submissions by operation and status",
		}, []string{"operation", "status"}),
		hashWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "therapyledger",
			Subsystem: "orchestrator",
			Name:      "hash_wait_seconds",
			Help:      "Time spent waiting for a transaction hash",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapyledger",
			Subsystem: "orchestrator",
			Name:      "reconciliations_total",
			Help:      "Provisional booking reconciliations by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.submissions, m.hashWait, m.reconciliations)
	return m
}

func (m *Metrics) ObserveSubmission(operation string, status Status, hashWait time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(operation, string(status)).Inc()
	m.hashWait.Observe(hashWait.Seconds())
}

func (m *Metrics) ObserveReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}
