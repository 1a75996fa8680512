// Package metrics exposes scheduler counters for Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	remindersSent   *prometheus.CounterVec
	remindersFailed *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	staleFirings    prometheus.Counter
	reconciliations *prometheus.CounterVec
	armedTimers     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remindersSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_reminders_sent_total",
				Help: "Reminders delivered to the chat transport",
			},
			[]string{"slot"},
		),
		remindersFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_reminders_failed_total",
				Help: "Reminders the chat transport failed to deliver",
			},
			[]string{"slot"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_transitions_total",
				Help: "Applied check-in lifecycle transitions",
			},
			[]string{"action"},
		),
		staleFirings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkin_stale_timer_firings_total",
				Help: "Timer firings dropped because the timer was re-armed or cancelled",
			},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_reconciliations_total",
				Help: "Schedule reconciliation passes",
			},
			[]string{"result"},
		),
		armedTimers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkin_armed_timers",
				Help: "Currently armed timers",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(
		m.remindersSent,
		m.remindersFailed,
		m.transitions,
		m.staleFirings,
		m.reconciliations,
		m.armedTimers,
	)
	return m
}

func (m *Metrics) ReminderSent(slot string) {
	if m != nil {
		m.remindersSent.WithLabelValues(slot).Inc()
	}
}

func (m *Metrics) ReminderFailed(slot string) {
	if m != nil {
		m.remindersFailed.WithLabelValues(slot).Inc()
	}
}

func (m *Metrics) Transition(action string) {
	if m != nil {
		m.transitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) StaleFiring() {
	if m != nil {
		m.staleFirings.Inc()
	}
}

func (m *Metrics) Reconciled(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) SetArmed(slots, retries int) {
	if m != nil {
		m.armedTimers.WithLabelValues("slot").Set(float64(slots))
		m.armedTimers.WithLabelValues("retry").Set(float64(retries))
	}
}
