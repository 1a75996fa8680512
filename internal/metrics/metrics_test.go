package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ReminderSent("morning")
	m.ReminderSent("morning")
	m.ReminderFailed("evening")
	m.Transition("complete")
	m.StaleFiring()
	m.Reconciled(false)
	m.SetArmed(6, 1)

	if got := testutil.ToFloat64(m.remindersSent.WithLabelValues("morning")); got != 2 {
		t.Fatalf("sent: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.remindersFailed.WithLabelValues("evening")); got != 1 {
		t.Fatalf("failed: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.staleFirings); got != 1 {
		t.Fatalf("stale: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconciliations.WithLabelValues("error")); got != 1 {
		t.Fatalf("reconciliations: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.armedTimers.WithLabelValues("slot")); got != 6 {
		t.Fatalf("armed: want 6, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ReminderSent("morning")
	m.Transition("skip")
	m.Reconciled(true)
	m.SetArmed(1, 1)
}
