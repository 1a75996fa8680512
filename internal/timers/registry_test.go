package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/timers/timerstest"
)

type recorder struct {
	mu      sync.Mutex
	fired   []SlotTimer
	retried []RetryTimer
}

func (r *recorder) fire(t SlotTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, t)
}

func (r *recorder) retry(t RetryTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried = append(r.retried, t)
}

func newTestRegistry(t *testing.T) (*Registry, *timerstest.ManualClock, *recorder, *int) {
	t.Helper()
	clock := timerstest.NewManualClock(time.Date(2026, time.May, 5, 6, 0, 0, 0, time.UTC))
	stale := 0
	reg := New(zap.NewNop(), WithClock(clock.Now, clock.AfterFunc), WithStaleHook(func() { stale++ }))
	rec := &recorder{}
	reg.SetHandlers(rec.fire, rec.retry)
	return reg, clock, rec, &stale
}

func TestArm_FiresAtInstant(t *testing.T) {
	reg, clock, rec, _ := newTestRegistry(t)

	gen := reg.Arm(42, domain.SlotMorning, clock.Now().Add(2*time.Hour))
	require.Equal(t, uint64(1), gen)

	require.Zero(t, clock.Advance(time.Hour))
	require.Equal(t, 1, clock.Advance(time.Hour))
	require.Len(t, rec.fired, 1)
	require.Equal(t, SlotTimer{UserID: 42, Slot: domain.SlotMorning, At: clock.Now(), Generation: 1}, rec.fired[0])
}

func TestArm_ReplacesAndInvalidatesOldGeneration(t *testing.T) {
	reg, clock, rec, stale := newTestRegistry(t)

	for i := 0; i < 5; i++ {
		reg.Arm(42, domain.SlotMorning, clock.Now().Add(time.Hour))
	}
	gen := reg.Arm(42, domain.SlotMorning, clock.Now().Add(2*time.Hour))
	require.Equal(t, uint64(6), gen)
	require.Equal(t, 1, clock.Pending(), "replaced timers must be stopped")

	// A late delivery of generation 5 is dropped.
	require.ErrorIs(t, reg.Dispatch(42, domain.SlotMorning, 5), ErrStaleTimerFiring)
	require.Equal(t, 1, *stale)
	require.Empty(t, rec.fired)

	require.NoError(t, reg.Dispatch(42, domain.SlotMorning, 6))
	require.Len(t, rec.fired, 1)
}

func TestRearm_LosesToConcurrentArm(t *testing.T) {
	reg, clock, _, _ := newTestRegistry(t)

	gen := reg.Arm(1, domain.SlotEvening, clock.Now().Add(time.Hour))
	newer := reg.Arm(1, domain.SlotEvening, clock.Now().Add(3*time.Hour))

	_, ok := reg.Rearm(1, domain.SlotEvening, gen, clock.Now().Add(24*time.Hour))
	require.False(t, ok)
	active := reg.Active(1)
	require.Len(t, active, 1)
	require.Equal(t, newer, active[0].Generation)

	next, ok := reg.Rearm(1, domain.SlotEvening, newer, clock.Now().Add(24*time.Hour))
	require.True(t, ok)
	require.Equal(t, newer+1, next)
}

func TestCancelUser_RemovesSlotsAndRetries(t *testing.T) {
	reg, clock, rec, _ := newTestRegistry(t)
	key := domain.InstanceKey{UserID: 1, Date: "2026-05-05", Slot: domain.SlotMorning}

	for _, s := range domain.Slots {
		reg.Arm(1, s, clock.Now().Add(time.Hour))
		reg.Arm(2, s, clock.Now().Add(time.Hour))
	}
	reg.ArmRetry(key, clock.Now().Add(15*time.Minute))

	require.Equal(t, 4, reg.CancelUser(1))
	require.Empty(t, reg.Active(1))
	require.Empty(t, reg.Retries(1))
	require.Len(t, reg.Active(2), 3)

	clock.Advance(2 * time.Hour)
	require.Len(t, rec.fired, 3)
	for _, f := range rec.fired {
		require.Equal(t, int64(2), f.UserID)
	}
	require.Empty(t, rec.retried)

	// Generations keep counting after a cancel.
	require.Equal(t, uint64(2), reg.Arm(1, domain.SlotMorning, clock.Now().Add(time.Hour)))
}

func TestArmRetry_ReplacedRetryIsStale(t *testing.T) {
	reg, clock, rec, _ := newTestRegistry(t)
	key := domain.InstanceKey{UserID: 1, Date: "2026-05-05", Slot: domain.SlotMidday}

	first := reg.ArmRetry(key, clock.Now().Add(15*time.Minute))
	second := reg.ArmRetry(key, clock.Now().Add(30*time.Minute))
	require.NotEqual(t, first.ID, second.ID)

	require.ErrorIs(t, reg.DispatchRetry(key, first.ID), ErrStaleTimerFiring)
	clock.Advance(time.Hour)
	require.Len(t, rec.retried, 1)
	require.Equal(t, second.ID, rec.retried[0].ID)

	// Retries are one-shot.
	require.ErrorIs(t, reg.DispatchRetry(key, second.ID), ErrStaleTimerFiring)
	require.Empty(t, reg.Retries(1))
}

func TestCancelAll(t *testing.T) {
	reg, clock, rec, _ := newTestRegistry(t)
	reg.Arm(1, domain.SlotMorning, clock.Now().Add(time.Hour))
	reg.ArmRetry(domain.InstanceKey{UserID: 1, Date: "2026-05-05", Slot: domain.SlotMorning}, clock.Now().Add(time.Minute))

	require.Equal(t, 2, reg.CancelAll())
	slots, retries := reg.Len()
	require.Zero(t, slots)
	require.Zero(t, retries)
	require.Zero(t, clock.Advance(2*time.Hour))
	require.Empty(t, rec.fired)
}

func TestConfirm_OnlyCurrentGeneration(t *testing.T) {
	reg, clock, _, stale := newTestRegistry(t)

	gen := reg.Arm(42, domain.SlotMidday, clock.Now().Add(time.Hour))
	require.NoError(t, reg.Confirm(42, domain.SlotMidday, gen))

	reg.Arm(42, domain.SlotMidday, clock.Now().Add(2*time.Hour))
	require.ErrorIs(t, reg.Confirm(42, domain.SlotMidday, gen), ErrStaleTimerFiring)

	reg.CancelUser(42)
	require.ErrorIs(t, reg.Confirm(42, domain.SlotMidday, gen+1), ErrStaleTimerFiring)
	require.Equal(t, 2, *stale)
}
