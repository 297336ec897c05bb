package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alertcpl"

// Incident outcomes recorded by ObserveIncident.
const (
	OutcomeSuppressed    = "suppressed"
	OutcomeLogFailed     = "log_failed"
	OutcomeNoDestination = "no_destination"
	OutcomeNotified      = "notified"
	OutcomeNotifyFailed  = "notify_failed"
	OutcomeDedupFailed   = "dedup_failed"
	OutcomeLoggedOnly    = "logged_only"
)

// Metrics groups the reconciliation collectors. A nil *Metrics is a no-op.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	samples       prometheus.Counter
	history       *prometheus.CounterVec
	incidents     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by final status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of completed reconciliation cycles.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_evaluated_total",
			Help:      "Metric samples passed through the threshold evaluator.",
		}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_records_total",
			Help:      "CPL history writes by result.",
		}, []string{"result"}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Raised incidents by alert kind and pipeline outcome.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.cycles, m.cycleDuration, m.samples, m.history, m.incidents, m.notifications} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
	if elapsed > 0 {
		m.cycleDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveSample() {
	if m == nil {
		return
	}
	m.samples.Inc()
}

func (m *Metrics) ObserveHistory(ok bool) {
	if m == nil {
		return
	}
	m.history.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveIncident(kind, outcome string) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
