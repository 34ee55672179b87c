package txproxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for transactional invocations.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeCommitFailed = "commit_failed"
	OutcomeBeginFailed  = "begin_failed"
	OutcomePanicked     = "panicked"
)

// Metrics records transactional invocation outcomes.
// Pass-through calls are not observed.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the interceptor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txguard",
			Name:      "transactional_invocations_total",
			Help:      "Transactional method invocations by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "txguard",
			Name:      "transaction_duration_seconds",
			Help:      "Time from begin to commit or rollback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
	}
	reg.MustRegister(m.invocations, m.duration)
	return m
}

func (m *Metrics) observe(method, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method, outcome).Observe(time.Since(started).Seconds())
}
