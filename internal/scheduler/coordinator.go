// Package scheduler keeps every user's slot timers in sync with their stored
// schedule and turns timer firings into check-in reminders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/lifecycle"
	"github.com/ykvlv/checkin-bot/internal/metrics"
	"github.com/ykvlv/checkin-bot/internal/store"
	"github.com/ykvlv/checkin-bot/internal/timers"
)

// ErrReconciliation means the store could not be read during reconciliation.
// Run retries it with backoff instead of arming timers against unknown state.
var ErrReconciliation = errors.New("reconciliation failed")

// Sender delivers a check-in reminder to the user. remindCount is how many
// remind-later credits the check-in has already used.
type Sender interface {
	SendReminder(ctx context.Context, userID int64, slot domain.Slot, date domain.Date, remindCount int) error
}

// Options tune reconciliation retries and per-firing deadlines.
type Options struct {
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	FireTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BackoffMin <= 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = time.Minute
		if o.BackoffMax < o.BackoffMin {
			o.BackoffMax = o.BackoffMin
		}
	}
	if o.FireTimeout <= 0 {
		o.FireTimeout = 30 * time.Second
	}
	return o
}

// Coordinator wires the resolver, the timer registry and the lifecycle engine.
// Everything that arms, cancels or fires timers of one user runs under that
// user's lock, so a profile edit, a deletion and a firing never interleave.
type Coordinator struct {
	repo     store.Repo
	engine   *lifecycle.Engine
	timers   *timers.Registry
	resolver domain.Resolver
	sender   Sender
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	opts     Options

	users *lifecycle.KeyedMutex[int64]

	readyOnce sync.Once
	ready     chan struct{}
}

// Deps groups the collaborators of a Coordinator.
type Deps struct {
	Repo     store.Repo
	Engine   *lifecycle.Engine
	Timers   *timers.Registry
	Resolver domain.Resolver
	Sender   Sender
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// New builds a Coordinator and installs its firing handlers on the registry.
func New(d Deps, opts Options) *Coordinator {
	if d.Now == nil {
		d.Now = time.Now
	}
	c := &Coordinator{
		repo:     d.Repo,
		engine:   d.Engine,
		timers:   d.Timers,
		resolver: d.Resolver,
		sender:   d.Sender,
		log:      d.Log,
		metrics:  d.Metrics,
		now:      d.Now,
		opts:     opts.withDefaults(),
		users:    lifecycle.NewKeyedMutex[int64](),
		ready:    make(chan struct{}),
	}
	c.timers.SetHandlers(c.handleFire, c.handleRetry)
	return c
}

// Ready is closed after the first successful reconciliation.
func (c *Coordinator) Ready() <-chan struct{} { return c.ready }

// Run reconciles all users, retrying with exponential backoff while the store
// is unavailable, then blocks until ctx is done and tears every timer down.
func (c *Coordinator) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BackoffMin
	b.MaxInterval = c.opts.BackoffMax
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		return c.Reconcile(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.log.Warn("reconciliation failed, retrying", zap.Duration("backoff", next), zap.Error(err))
	})
	if err != nil {
		c.log.Info("reconciliation abandoned", zap.Error(err))
		c.shutdown()
		return
	}
	c.readyOnce.Do(func() { close(c.ready) })

	slots, retries := c.timers.Len()
	c.log.Info("scheduler started", zap.Int("slotTimers", slots), zap.Int("retryTimers", retries))

	<-ctx.Done()
	c.shutdown()
}

func (c *Coordinator) shutdown() {
	n := c.timers.CancelAll()
	c.updateArmed()
	c.log.Info("scheduler stopping", zap.Int("cancelledTimers", n))
}

// Reconcile re-derives every user's timers from the store: slot timers are
// armed at their next occurrence, reminded check-ins whose next-day occurrence
// already passed are expired, and outstanding retries are re-armed at their
// stored due time. Running it twice arms the same instants.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	ids, err := c.repo.ListUserIDs(ctx)
	if err != nil {
		c.metrics.Reconciled(false)
		return fmt.Errorf("%w: list users: %w", ErrReconciliation, err)
	}
	for _, id := range ids {
		if err := c.reconcileUser(ctx, id); err != nil {
			c.metrics.Reconciled(false)
			return fmt.Errorf("%w: user %d: %w", ErrReconciliation, id, err)
		}
	}
	c.metrics.Reconciled(true)
	c.log.Info("reconciled schedules", zap.Int("users", len(ids)))
	return nil
}

func (c *Coordinator) reconcileUser(ctx context.Context, userID int64) error {
	unlock := c.users.Lock(userID)
	defer unlock()
	defer c.updateArmed()

	occs, err := c.syncLocked(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			c.log.Warn("schedule invalid, timers left unarmed", zap.Int64("userID", userID), zap.Error(err))
			return nil
		}
		return err
	}
	if occs == nil {
		return nil
	}
	next := make(map[domain.Slot]domain.Date, len(occs))
	for _, o := range occs {
		next[o.Slot] = o.Date
	}

	live, err := c.repo.ListLive(ctx, userID)
	if err != nil {
		return fmt.Errorf("list live: %w", err)
	}
	for _, inst := range live {
		if inst.Key.Date.AddDays(1).Before(next[inst.Key.Slot]) {
			if _, err := c.engine.Expire(ctx, inst.Key); err != nil && !errors.Is(err, domain.ErrAlreadyFinalized) {
				return fmt.Errorf("expire %s: %w", inst.Key, err)
			}
			c.timers.CancelRetry(inst.Key)
			continue
		}
		if inst.RetryAt != nil {
			c.timers.ArmRetry(inst.Key, *inst.RetryAt)
		}
	}
	return nil
}

// SaveSchedule validates and stores a schedule, then re-arms the user's timers.
func (c *Coordinator) SaveSchedule(ctx context.Context, u *domain.UserSchedule) ([]domain.Occurrence, error) {
	if err := c.ValidateSchedule(u); err != nil {
		return nil, err
	}
	unlock := c.users.Lock(u.UserID)
	defer unlock()
	defer c.updateArmed()

	if err := c.repo.UpsertSchedule(ctx, u); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	return c.syncLocked(ctx, u.UserID)
}

// ValidateSchedule checks everything SaveSchedule would reject.
func (c *Coordinator) ValidateSchedule(u *domain.UserSchedule) error {
	if err := c.resolver.Validate(u); err != nil {
		return err
	}
	if err := domain.ValidateSleepSchedule(u.Bedtime, u.WakeTime); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSchedule, err)
	}
	return nil
}

// SyncUser re-arms the user's slot timers from the stored schedule.
func (c *Coordinator) SyncUser(ctx context.Context, userID int64) ([]domain.Occurrence, error) {
	unlock := c.users.Lock(userID)
	defer unlock()
	defer c.updateArmed()
	return c.syncLocked(ctx, userID)
}

// ForceReschedule is SyncUser on explicit user request.
func (c *Coordinator) ForceReschedule(ctx context.Context, userID int64) ([]domain.Occurrence, error) {
	occs, err := c.SyncUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.log.Info("schedule reloaded", zap.Int64("userID", userID), zap.Int("timers", len(occs)))
	return occs, nil
}

// syncLocked resolves all three slots before touching any timer. A missing
// user loses its timers and yields (nil, nil); an invalid schedule loses its
// timers and yields the error.
func (c *Coordinator) syncLocked(ctx context.Context, userID int64) ([]domain.Occurrence, error) {
	u, err := c.repo.GetSchedule(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.timers.CancelUser(userID)
			return nil, nil
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	occs, err := c.resolver.NextAll(u, c.now())
	if err != nil {
		c.timers.CancelUser(userID)
		return nil, err
	}
	for _, o := range occs {
		c.timers.Arm(userID, o.Slot, o.At)
	}
	c.log.Debug("timers armed",
		zap.Int64("userID", userID),
		zap.Time("morning", occs[0].At),
		zap.Time("midday", occs[1].At),
		zap.Time("evening", occs[2].At),
	)
	return occs, nil
}

// DeleteUser cancels the user's timers, then deletes the stored rows.
func (c *Coordinator) DeleteUser(ctx context.Context, userID int64) error {
	unlock := c.users.Lock(userID)
	defer unlock()
	defer c.updateArmed()

	n := c.timers.CancelUser(userID)
	if err := c.repo.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	c.log.Info("user deleted", zap.Int64("userID", userID), zap.Int("cancelledTimers", n))
	return nil
}

// handleFire runs for every current slot firing.
func (c *Coordinator) handleFire(t timers.SlotTimer) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FireTimeout)
	defer cancel()

	key, send := c.fireLocked(ctx, t)
	if send {
		c.send(ctx, key, 0)
	}
}

func (c *Coordinator) fireLocked(ctx context.Context, t timers.SlotTimer) (domain.InstanceKey, bool) {
	unlock := c.users.Lock(t.UserID)
	defer unlock()
	defer c.updateArmed()

	log := c.log.With(zap.Int64("userID", t.UserID), zap.String("slot", t.Slot.String()))

	if err := c.timers.Confirm(t.UserID, t.Slot, t.Generation); err != nil {
		log.Info("firing replaced while waiting for user lock", zap.Uint64("generation", t.Generation), zap.Error(err))
		return domain.InstanceKey{}, false
	}

	u, err := c.repo.GetSchedule(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.timers.CancelUser(t.UserID)
			log.Info("firing for deleted user dropped")
		} else {
			log.Error("load schedule on fire", zap.Error(err))
		}
		return domain.InstanceKey{}, false
	}
	loc, err := u.Location()
	if err != nil {
		c.timers.CancelUser(t.UserID)
		log.Warn("schedule timezone invalid on fire", zap.Error(err))
		return domain.InstanceKey{}, false
	}
	key := domain.InstanceKey{UserID: t.UserID, Date: domain.DateOf(t.At, loc), Slot: t.Slot}

	// The next occurrence is armed even when the store calls below fail.
	base := c.now()
	if t.At.After(base) {
		base = t.At
	}
	if occ, err := c.resolver.NextFire(u, t.Slot, base); err != nil {
		log.Error("resolve next occurrence", zap.Error(err))
	} else if _, ok := c.timers.Rearm(t.UserID, t.Slot, t.Generation, occ.At); !ok {
		log.Debug("re-arm lost to a newer timer", zap.Uint64("generation", t.Generation))
	}

	if expired, err := c.engine.ExpireStale(ctx, t.UserID, t.Slot, key.Date); err != nil {
		log.Error("expire stale check-ins", zap.Error(err))
	} else {
		for _, k := range expired {
			c.timers.CancelRetry(k)
		}
	}

	inst, created, err := c.engine.CreateOnFire(ctx, key)
	if err != nil {
		log.Error("create check-in on fire", zap.Error(err))
		return key, false
	}
	if !created {
		log.Info("duplicate firing ignored", zap.String("state", string(inst.State)))
		return key, false
	}
	return key, true
}

// handleRetry runs for every current remind-later retry.
func (c *Coordinator) handleRetry(t timers.RetryTimer) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FireTimeout)
	defer cancel()

	count, send := c.retryLocked(ctx, t)
	if send {
		c.send(ctx, t.Key, count)
	}
}

func (c *Coordinator) retryLocked(ctx context.Context, t timers.RetryTimer) (int, bool) {
	unlock := c.users.Lock(t.Key.UserID)
	defer unlock()
	defer c.updateArmed()

	inst, err := c.engine.RetryFired(ctx, t.Key)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyFinalized) || errors.Is(err, domain.ErrNotFound) {
			c.log.Debug("retry for finished check-in dropped", zap.String("checkin", t.Key.String()), zap.Error(err))
		} else {
			c.log.Error("retry fired", zap.String("checkin", t.Key.String()), zap.Error(err))
		}
		return 0, false
	}
	return inst.RemindLaterCount, true
}

func (c *Coordinator) send(ctx context.Context, key domain.InstanceKey, remindCount int) {
	if c.sender == nil {
		return
	}
	// The send runs outside the user lock; a deletion may have landed since the firing.
	if _, err := c.repo.GetSchedule(ctx, key.UserID); errors.Is(err, domain.ErrNotFound) {
		c.log.Info("reminder dropped for deleted user", zap.String("checkin", key.String()))
		return
	}
	err := c.sender.SendReminder(ctx, key.UserID, key.Slot, key.Date, remindCount)
	if err != nil {
		c.metrics.ReminderFailed(key.Slot.String())
		c.log.Warn("reminder not delivered", zap.String("checkin", key.String()), zap.Error(err))
		return
	}
	c.metrics.ReminderSent(key.Slot.String())
	c.log.Info("reminder sent",
		zap.Int64("userID", key.UserID),
		zap.String("date", key.Date.String()),
		zap.String("slot", key.Slot.String()),
		zap.Int("remindCount", remindCount),
	)
}

func (c *Coordinator) updateArmed() {
	slots, retries := c.timers.Len()
	c.metrics.SetArmed(slots, retries)
}

// TriggerCheckin starts today's check-in of slot on the user's request.
// Older reminded check-ins of the slot are expired first.
func (c *Coordinator) TriggerCheckin(ctx context.Context, userID int64, slot domain.Slot) (*domain.CheckinInstance, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: unknown slot %q", domain.ErrInvalidTransition, slot)
	}
	unlock := c.users.Lock(userID)
	defer unlock()
	defer c.updateArmed()

	today, err := c.today(ctx, userID)
	if err != nil {
		return nil, err
	}
	expired, err := c.engine.ExpireStale(ctx, userID, slot, today)
	if err != nil {
		return nil, err
	}
	for _, k := range expired {
		c.timers.CancelRetry(k)
	}
	inst, _, err := c.engine.Trigger(ctx, domain.InstanceKey{UserID: userID, Date: today, Slot: slot})
	return inst, err
}

// RecordAnswer completes a check-in with the collected ratings.
func (c *Coordinator) RecordAnswer(ctx context.Context, key domain.InstanceKey, answers map[string]int) (*domain.CheckinInstance, error) {
	unlock := c.users.Lock(key.UserID)
	defer unlock()
	defer c.updateArmed()

	inst, err := c.engine.Complete(ctx, key, answers)
	if err != nil {
		return inst, err
	}
	c.timers.CancelRetry(key)
	return inst, nil
}

// RecordSkip skips a check-in and drops its pending retry.
func (c *Coordinator) RecordSkip(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	unlock := c.users.Lock(key.UserID)
	defer unlock()
	defer c.updateArmed()

	inst, err := c.engine.Skip(ctx, key)
	if err != nil {
		return inst, err
	}
	c.timers.CancelRetry(key)
	return inst, nil
}

// RecordRemindLater spends a remind-later credit and arms the retry.
func (c *Coordinator) RecordRemindLater(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	unlock := c.users.Lock(key.UserID)
	defer unlock()
	defer c.updateArmed()

	inst, err := c.engine.RemindLater(ctx, key)
	if err != nil {
		return inst, err
	}
	if inst.RetryAt != nil {
		c.timers.ArmRetry(key, *inst.RetryAt)
	}
	return inst, nil
}

// ActiveTimers lists the user's armed slot timers and pending retries.
func (c *Coordinator) ActiveTimers(userID int64) ([]timers.SlotTimer, []timers.RetryTimer) {
	return c.timers.Active(userID), c.timers.Retries(userID)
}

// Schedule returns the stored schedule and its resolved local slot times.
func (c *Coordinator) Schedule(ctx context.Context, userID int64) (*domain.UserSchedule, map[domain.Slot]string, error) {
	u, err := c.repo.GetSchedule(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	times, err := c.resolver.DailyTimes(u)
	if err != nil {
		return u, nil, err
	}
	return u, times, nil
}

// Today returns the user's current local calendar day.
func (c *Coordinator) Today(ctx context.Context, userID int64) (domain.Date, error) {
	return c.today(ctx, userID)
}

func (c *Coordinator) today(ctx context.Context, userID int64) (domain.Date, error) {
	u, err := c.repo.GetSchedule(ctx, userID)
	if err != nil {
		return "", err
	}
	return c.resolver.Today(u, c.now())
}

// Checkin loads a check-in for display.
func (c *Coordinator) Checkin(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return c.engine.Get(ctx, key)
}

// RemindLimit is the configured cap of remind-later credits.
func (c *Coordinator) RemindLimit() int { return c.engine.Options().RemindLimit }
