// Package lifecycle serializes and persists check-in state transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/metrics"
	"github.com/ykvlv/checkin-bot/internal/store"
)

// Options are the remind-later policy knobs.
type Options struct {
	RemindLimit int
	RetryDelay  time.Duration
}

// Engine runs every transition of a check-in under a per-natural-key lock:
// load, apply the pure transition, persist. Concurrent callers on the same
// key observe each other's results instead of overwriting them.
type Engine struct {
	repo    store.Repo
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	opts    Options
	locks   *KeyedMutex[domain.InstanceKey]
}

func NewEngine(repo store.Repo, log *zap.Logger, m *metrics.Metrics, now func() time.Time, opts Options) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     now,
		opts:    opts,
		locks:   NewKeyedMutex[domain.InstanceKey](),
	}
}

func (e *Engine) Options() Options { return e.opts }

// Get loads a check-in without changing it.
func (e *Engine) Get(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return e.repo.GetCheckin(ctx, key)
}

// CreateOnFire creates the check-in in the reminded state. If it already
// exists it is returned unchanged with created=false, so duplicate timer
// deliveries are harmless.
func (e *Engine) CreateOnFire(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, bool, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	cur, err := e.repo.GetCheckin(ctx, key)
	if err == nil {
		return cur, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return e.createLocked(ctx, key)
}

// Trigger starts a check-in on the user's request. A reminded instance is
// reused; a finalized one yields domain.ErrAlreadyFinalized.
func (e *Engine) Trigger(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, bool, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	cur, err := e.repo.GetCheckin(ctx, key)
	switch {
	case err == nil && cur.State.Terminal():
		return cur, false, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyFinalized, key, cur.State)
	case err == nil:
		return cur, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return e.createLocked(ctx, key)
}

func (e *Engine) createLocked(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, bool, error) {
	c := domain.NewReminded(key, e.now())
	if err := e.repo.UpsertCheckin(ctx, &c); err != nil {
		return nil, false, fmt.Errorf("create %s: %w", key, err)
	}
	e.metrics.Transition("create")
	e.log.Info("check-in reminded",
		zap.Int64("userID", key.UserID),
		zap.String("date", key.Date.String()),
		zap.String("slot", key.Slot.String()),
	)
	return &c, true, nil
}

// Complete stores the answers and finalizes the check-in.
func (e *Engine) Complete(ctx context.Context, key domain.InstanceKey, answers map[string]int) (*domain.CheckinInstance, error) {
	if err := domain.ValidateAnswers(key.Slot, answers); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
	}
	return e.apply(ctx, key, domain.Transition{Action: domain.ActionComplete, Answers: answers})
}

// Skip finalizes the check-in without answers.
func (e *Engine) Skip(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return e.apply(ctx, key, domain.Transition{Action: domain.ActionSkip})
}

// RemindLater spends one remind-later credit and records when the retry is due.
// Arming the retry timer is the caller's job.
func (e *Engine) RemindLater(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return e.apply(ctx, key, domain.Transition{
		Action:      domain.ActionRemindLater,
		RemindLimit: e.opts.RemindLimit,
		RetryDelay:  e.opts.RetryDelay,
	})
}

// Expire finalizes a check-in the user never acted on.
func (e *Engine) Expire(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return e.apply(ctx, key, domain.Transition{Action: domain.ActionExpire})
}

// RetryFired clears the outstanding retry marker of a still reminded check-in.
func (e *Engine) RetryFired(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	return e.apply(ctx, key, domain.Transition{Action: domain.ActionRetryFired})
}

// ExpireStale expires the user's reminded check-ins of slot dated before day.
func (e *Engine) ExpireStale(ctx context.Context, userID int64, slot domain.Slot, before domain.Date) ([]domain.InstanceKey, error) {
	live, err := e.repo.ListLive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list live: %w", err)
	}
	var expired []domain.InstanceKey
	for _, c := range live {
		if c.Key.Slot != slot || !c.Key.Date.Before(before) {
			continue
		}
		if _, err := e.Expire(ctx, c.Key); err != nil {
			if errors.Is(err, domain.ErrAlreadyFinalized) {
				continue
			}
			return expired, err
		}
		expired = append(expired, c.Key)
	}
	return expired, nil
}

func (e *Engine) apply(ctx context.Context, key domain.InstanceKey, t domain.Transition) (*domain.CheckinInstance, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	cur, err := e.repo.GetCheckin(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	t.Now = e.now()
	next, err := cur.Apply(t)
	if err != nil {
		return cur, err
	}
	if err := e.repo.UpsertCheckin(ctx, &next); err != nil {
		return cur, fmt.Errorf("save %s: %w", key, err)
	}

	e.metrics.Transition(string(t.Action))
	e.log.Info("check-in transition",
		zap.Int64("userID", key.UserID),
		zap.String("date", key.Date.String()),
		zap.String("slot", key.Slot.String()),
		zap.String("action", string(t.Action)),
		zap.String("state", string(next.State)),
		zap.Int("remindLater", next.RemindLaterCount),
	)
	return &next, nil
}
