// Package timers owns every armed timer of the process: one perpetual slot
// timer per (user, slot) and one-shot remind-later retries per check-in.
package timers

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// ErrStaleTimerFiring is returned by Dispatch for firings of a replaced or cancelled timer.
var ErrStaleTimerFiring = errors.New("stale timer firing")

// AfterFunc schedules f after d and returns a stop function, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// RealAfterFunc runs timers on the wall clock.
func RealAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Key identifies a slot timer.
type Key struct {
	UserID int64
	Slot   domain.Slot
}

// SlotTimer is a snapshot of one armed slot timer.
type SlotTimer struct {
	UserID     int64
	Slot       domain.Slot
	At         time.Time // UTC
	Generation uint64
}

// RetryTimer is a snapshot of one armed remind-later retry.
type RetryTimer struct {
	Key domain.InstanceKey
	ID  string
	At  time.Time
}

// FireFunc handles a current (non-stale) slot firing.
type FireFunc func(t SlotTimer)

// RetryFunc handles a current remind-later retry.
type RetryFunc func(t RetryTimer)

type slotEntry struct {
	timer SlotTimer
	stop  func() bool
}

type retryEntry struct {
	timer RetryTimer
	stop  func() bool
}

// Registry maps (user, slot) to (instant, generation). Re-arming is a pure
// replace and staleness is a generation comparison.
type Registry struct {
	log     *zap.Logger
	after   AfterFunc
	now     func() time.Time
	onFire  FireFunc
	onRetry RetryFunc
	onStale func()

	mu      sync.Mutex
	slots   map[Key]*slotEntry
	gens    map[Key]uint64
	retries map[domain.InstanceKey]*retryEntry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock; tests use it to fire timers by hand.
func WithClock(now func() time.Time, after AfterFunc) Option {
	return func(r *Registry) {
		r.now = now
		r.after = after
	}
}

// WithStaleHook registers a callback invoked for every dropped stale firing.
func WithStaleHook(f func()) Option {
	return func(r *Registry) { r.onStale = f }
}

// New creates an empty registry. Handlers are wired later with SetHandlers.
func New(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:     log,
		after:   RealAfterFunc,
		now:     time.Now,
		slots:   make(map[Key]*slotEntry),
		gens:    make(map[Key]uint64),
		retries: make(map[domain.InstanceKey]*retryEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetHandlers wires the callbacks invoked on current firings.
func (r *Registry) SetHandlers(onFire FireFunc, onRetry RetryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFire = onFire
	r.onRetry = onRetry
}

// Arm replaces any timer for (user, slot) and returns the new generation.
func (r *Registry) Arm(userID int64, slot domain.Slot, at time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armLocked(Key{UserID: userID, Slot: slot}, at)
}

// Rearm arms the next occurrence only if the key still holds generation
// expect. It reports false when a concurrent Arm or cancel won.
func (r *Registry) Rearm(userID int64, slot domain.Slot, expect uint64, at time.Time) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key{UserID: userID, Slot: slot}
	e, ok := r.slots[key]
	if !ok || e.timer.Generation != expect {
		return 0, false
	}
	return r.armLocked(key, at), true
}

func (r *Registry) armLocked(key Key, at time.Time) uint64 {
	if old, ok := r.slots[key]; ok {
		old.stop()
	}
	gen := r.gens[key] + 1
	r.gens[key] = gen

	t := SlotTimer{UserID: key.UserID, Slot: key.Slot, At: at.UTC(), Generation: gen}
	delay := at.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	stop := r.after(delay, func() {
		if err := r.Dispatch(key.UserID, key.Slot, gen); err != nil {
			r.log.Debug("timer firing dropped",
				zap.Int64("userID", key.UserID),
				zap.String("slot", key.Slot.String()),
				zap.Uint64("generation", gen),
				zap.Error(err),
			)
		}
	})
	r.slots[key] = &slotEntry{timer: t, stop: stop}
	return gen
}

// Dispatch delivers a firing tagged with generation. Firings whose generation
// is not the registered one are dropped with ErrStaleTimerFiring.
func (r *Registry) Dispatch(userID int64, slot domain.Slot, generation uint64) error {
	r.mu.Lock()
	e, ok := r.slots[Key{UserID: userID, Slot: slot}]
	if !ok || e.timer.Generation != generation {
		hook := r.onStale
		r.mu.Unlock()
		if hook != nil {
			hook()
		}
		return ErrStaleTimerFiring
	}
	t := e.timer
	fire := r.onFire
	r.mu.Unlock()

	if fire != nil {
		fire(t)
	}
	return nil
}

// Confirm reports whether generation is still the armed one for (user, slot).
// Handlers call it after taking their own locks, since a re-arm may land
// between Dispatch and the handler; a replaced firing counts as stale.
func (r *Registry) Confirm(userID int64, slot domain.Slot, generation uint64) error {
	r.mu.Lock()
	e, ok := r.slots[Key{UserID: userID, Slot: slot}]
	current := ok && e.timer.Generation == generation
	hook := r.onStale
	r.mu.Unlock()

	if current {
		return nil
	}
	if hook != nil {
		hook()
	}
	return ErrStaleTimerFiring
}

// ArmRetry arms a one-shot retry for a check-in, replacing an earlier one.
func (r *Registry) ArmRetry(key domain.InstanceKey, at time.Time) RetryTimer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.retries[key]; ok {
		old.stop()
	}
	t := RetryTimer{Key: key, ID: uuid.NewString(), At: at.UTC()}
	delay := at.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	stop := r.after(delay, func() {
		if err := r.DispatchRetry(key, t.ID); err != nil {
			r.log.Debug("retry firing dropped", zap.String("checkin", key.String()), zap.Error(err))
		}
	})
	r.retries[key] = &retryEntry{timer: t, stop: stop}
	return t
}

// DispatchRetry delivers a retry once; unknown or replaced ids are stale.
func (r *Registry) DispatchRetry(key domain.InstanceKey, id string) error {
	r.mu.Lock()
	e, ok := r.retries[key]
	if !ok || e.timer.ID != id {
		hook := r.onStale
		r.mu.Unlock()
		if hook != nil {
			hook()
		}
		return ErrStaleTimerFiring
	}
	delete(r.retries, key)
	t := e.timer
	fire := r.onRetry
	r.mu.Unlock()

	if fire != nil {
		fire(t)
	}
	return nil
}

// CancelRetry drops the pending retry of a check-in, if any.
func (r *Registry) CancelRetry(key domain.InstanceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.retries[key]; ok {
		e.stop()
		delete(r.retries, key)
	}
}

// CancelUser removes every slot timer and retry of a user and returns how many were removed.
func (r *Registry) CancelUser(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, e := range r.slots {
		if key.UserID == userID {
			e.stop()
			delete(r.slots, key)
			n++
		}
	}
	for key, e := range r.retries {
		if key.UserID == userID {
			e.stop()
			delete(r.retries, key)
			n++
		}
	}
	return n
}

// CancelAll stops everything; used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.slots) + len(r.retries)
	for _, e := range r.slots {
		e.stop()
	}
	for _, e := range r.retries {
		e.stop()
	}
	r.slots = make(map[Key]*slotEntry)
	r.retries = make(map[domain.InstanceKey]*retryEntry)
	return n
}

// Active lists the user's slot timers in slot order.
func (r *Registry) Active(userID int64) []SlotTimer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SlotTimer
	for _, s := range domain.Slots {
		if e, ok := r.slots[Key{UserID: userID, Slot: s}]; ok {
			out = append(out, e.timer)
		}
	}
	return out
}

// Retries lists the user's pending retries ordered by due time.
func (r *Registry) Retries(userID int64) []RetryTimer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []RetryTimer
	for key, e := range r.retries {
		if key.UserID == userID {
			out = append(out, e.timer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Len returns the number of armed slot timers and retries.
func (r *Registry) Len() (slots, retries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots), len(r.retries)
}
