package domain

import "errors"

var (
	// ErrInvalidSchedule means bedtime, wake time, an override or the timezone
	// cannot be used. No timer may be armed for such a schedule.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrAlreadyFinalized is returned by any transition attempted on a terminal
	// check-in. Callers treat it as a benign lost race.
	ErrAlreadyFinalized = errors.New("check-in already finalized")

	// ErrRemindLimitReached means the remind-later cap is used up; the user has
	// to complete or skip.
	ErrRemindLimitReached = errors.New("remind-later limit reached")

	// ErrInvalidTransition covers transitions that are not legal from a
	// non-terminal state (e.g. completing a pending check-in).
	ErrInvalidTransition = errors.New("invalid check-in transition")

	ErrNotFound = errors.New("not found")
)
