package domain

import (
	"fmt"
	"maps"
	"time"
)

// State of a check-in instance.
type State string

const (
	StatePending   State = "pending"
	StateReminded  State = "reminded"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateExpired   State = "expired"
)

// Terminal states accept no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateSkipped || s == StateExpired
}

// InstanceKey is the natural key of a check-in: one per user, day and slot.
type InstanceKey struct {
	UserID int64
	Date   Date
	Slot   Slot
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.UserID, k.Date, k.Slot)
}

// CheckinInstance is one day's occurrence of one slot for one user.
type CheckinInstance struct {
	Key              InstanceKey
	State            State
	RemindLaterCount int
	Answers          map[string]int
	RemindedAt       *time.Time // UTC
	RetryAt          *time.Time // due time of an outstanding remind-later retry
	CompletedAt      *time.Time
	SkippedAt        *time.Time
	ExpiredAt        *time.Time
}

// NewReminded builds an instance that was just reminded (by a timer or by the user).
func NewReminded(key InstanceKey, now time.Time) CheckinInstance {
	at := now.UTC()
	return CheckinInstance{Key: key, State: StateReminded, RemindedAt: &at}
}

// Action names a transition of the check-in state machine.
type Action string

const (
	ActionComplete    Action = "complete"
	ActionSkip        Action = "skip"
	ActionRemindLater Action = "remind_later"
	ActionExpire      Action = "expire"
	ActionRetryFired  Action = "retry_fired"
)

// Transition is the input of Apply.
type Transition struct {
	Action      Action
	Now         time.Time
	Answers     map[string]int // ActionComplete
	RemindLimit int            // ActionRemindLater
	RetryDelay  time.Duration  // ActionRemindLater
}

// Apply is the pure transition function. It returns the new instance and
// leaves c untouched; on error the returned instance equals c.
func (c CheckinInstance) Apply(t Transition) (CheckinInstance, error) {
	if c.State.Terminal() {
		return c, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, c.Key, c.State)
	}
	if c.State != StateReminded {
		return c, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t.Action, c.State)
	}

	now := t.Now.UTC()
	next := c
	next.Answers = maps.Clone(c.Answers)

	switch t.Action {
	case ActionComplete:
		next.State = StateCompleted
		next.Answers = maps.Clone(t.Answers)
		next.CompletedAt = &now
		next.RetryAt = nil
	case ActionSkip:
		next.State = StateSkipped
		next.SkippedAt = &now
		next.RetryAt = nil
	case ActionExpire:
		next.State = StateExpired
		next.ExpiredAt = &now
		next.RetryAt = nil
	case ActionRemindLater:
		if c.RemindLaterCount >= t.RemindLimit {
			return c, fmt.Errorf("%w: %d of %d used", ErrRemindLimitReached, c.RemindLaterCount, t.RemindLimit)
		}
		due := now.Add(t.RetryDelay)
		next.RemindLaterCount++
		next.RetryAt = &due
	case ActionRetryFired:
		next.RetryAt = nil
	default:
		return c, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, t.Action)
	}
	return next, nil
}
