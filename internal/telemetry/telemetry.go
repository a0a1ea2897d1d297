package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's prometheus instruments. A nil *Metrics is
// valid everywhere and records nothing, so telemetry can be switched off
// without conditionals at every call site.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsFailed    prometheus.Counter
	sessionsDeleted   prometheus.Counter
	tierAcquisitions  *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
}

// New registers the engine metrics on reg (pass prometheus.DefaultRegisterer
// in production, a private registry in tests).
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Search sessions started.",
		}),
		sessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Search sessions that reached completed.",
		}),
		sessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Search sessions that reached failed.",
		}),
		sessionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deleted_total",
			Help:      "Search sessions removed by client request or TTL sweep.",
		}),
		tierAcquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_acquisitions_total",
			Help:      "Acquisition attempts by tier and outcome.",
		}, []string{"tier", "outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "platform_task_duration_seconds",
			Help:      "Wall time from task start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"platform", "state"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionFinished(completed bool) {
	if m == nil {
		return
	}
	if completed {
		m.sessionsCompleted.Inc()
	} else {
		m.sessionsFailed.Inc()
	}
}

func (m *Metrics) SessionDeleted() {
	if m != nil {
		m.sessionsDeleted.Inc()
	}
}

func (m *Metrics) CountTier(tier, outcome string) {
	if m != nil {
		m.tierAcquisitions.WithLabelValues(tier, outcome).Inc()
	}
}

func (m *Metrics) ObserveTask(platform, state string, d time.Duration) {
	if m != nil {
		m.taskDuration.WithLabelValues(platform, state).Observe(d.Seconds())
	}
}
