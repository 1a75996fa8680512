package domain

import (
	"fmt"
	"time"
)

// Offsets are the product constants used to derive default slot times.
type Offsets struct {
	Morning        time.Duration // after wake time
	Evening        time.Duration // before bedtime
	MiddayEarliest int           // minutes since midnight
	MiddayLatest   int           // minutes since midnight
}

// DefaultOffsets: morning 1h after waking, evening 2h before bed,
// midday clamped into 11:00–17:00.
func DefaultOffsets() Offsets {
	return Offsets{
		Morning:        time.Hour,
		Evening:        2 * time.Hour,
		MiddayEarliest: 11 * 60,
		MiddayLatest:   17 * 60,
	}
}

// Occurrence is one absolute fire instant of a slot.
type Occurrence struct {
	Slot Slot
	At   time.Time // UTC
	Date Date      // user-local calendar day of At
}

// Resolver turns a UserSchedule into absolute fire instants.
type Resolver struct {
	Offsets Offsets
}

func NewResolver(o Offsets) Resolver { return Resolver{Offsets: o} }

// Validate reports whether every field the resolver needs is usable.
func (r Resolver) Validate(u *UserSchedule) error {
	if u == nil {
		return fmt.Errorf("%w: nil schedule", ErrInvalidSchedule)
	}
	if _, err := ParseClock(u.Bedtime); err != nil {
		return fmt.Errorf("%w: bedtime: %w", ErrInvalidSchedule, err)
	}
	if _, err := ParseClock(u.WakeTime); err != nil {
		return fmt.Errorf("%w: wake time: %w", ErrInvalidSchedule, err)
	}
	if _, err := u.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, u.TZ, err)
	}
	if u.WeekStart < time.Sunday || u.WeekStart > time.Saturday {
		return fmt.Errorf("%w: week start %d", ErrInvalidSchedule, u.WeekStart)
	}
	for _, s := range Slots {
		if v, ok := u.Override(s); ok {
			if _, err := ParseClock(v); err != nil {
				return fmt.Errorf("%w: %s override: %w", ErrInvalidSchedule, s, err)
			}
		}
	}
	return nil
}

// SlotMinutes returns the local time of a slot as minutes since midnight.
func (r Resolver) SlotMinutes(u *UserSchedule, s Slot) (int, error) {
	if v, ok := u.Override(s); ok {
		m, err := ParseClock(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s override: %w", ErrInvalidSchedule, s, err)
		}
		return m, nil
	}
	bed, err := ParseClock(u.Bedtime)
	if err != nil {
		return 0, fmt.Errorf("%w: bedtime: %w", ErrInvalidSchedule, err)
	}
	wake, err := ParseClock(u.WakeTime)
	if err != nil {
		return 0, fmt.Errorf("%w: wake time: %w", ErrInvalidSchedule, err)
	}

	switch s {
	case SlotMorning:
		return wrapMinutes(wake + int(r.Offsets.Morning/time.Minute)), nil
	case SlotEvening:
		return wrapMinutes(bed - int(r.Offsets.Evening/time.Minute)), nil
	case SlotMidday:
		awake := wrapMinutes(bed - wake)
		if awake == 0 {
			awake = minutesPerDay
		}
		mid := wrapMinutes(wake + awake/2)
		if mid < r.Offsets.MiddayEarliest {
			mid = r.Offsets.MiddayEarliest
		}
		if mid > r.Offsets.MiddayLatest {
			mid = r.Offsets.MiddayLatest
		}
		return mid, nil
	}
	return 0, fmt.Errorf("%w: unknown slot %q", ErrInvalidSchedule, s)
}

// DailyTimes returns the local HH:MM of every slot.
func (r Resolver) DailyTimes(u *UserSchedule) (map[Slot]string, error) {
	out := make(map[Slot]string, len(Slots))
	for _, s := range Slots {
		m, err := r.SlotMinutes(u, s)
		if err != nil {
			return nil, err
		}
		out[s] = FormatMinutes(m)
	}
	return out, nil
}

// NextFire returns the first instant strictly after now at which slot s fires.
// The wall-clock time is rebuilt from the local calendar date for every
// candidate day, so DST shifts keep the local time stable.
func (r Resolver) NextFire(u *UserSchedule, s Slot, now time.Time) (Occurrence, error) {
	if u == nil {
		return Occurrence{}, fmt.Errorf("%w: nil schedule", ErrInvalidSchedule)
	}
	loc, err := u.Location()
	if err != nil {
		return Occurrence{}, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, u.TZ, err)
	}
	mins, err := r.SlotMinutes(u, s)
	if err != nil {
		return Occurrence{}, err
	}

	y, m, d := now.In(loc).Date()
	// Two days always suffice; the third covers a wall-clock time swallowed by a DST gap.
	for i := 0; i <= 2; i++ {
		at := time.Date(y, m, d+i, mins/60, mins%60, 0, 0, loc)
		if at.After(now) {
			day := time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC)
			return Occurrence{Slot: s, At: at.UTC(), Date: Date(day.Format(dateLayout))}, nil
		}
	}
	return Occurrence{}, fmt.Errorf("%w: no future instant for %s", ErrInvalidSchedule, s)
}

// NextAll resolves every slot. It fails as a whole if any slot fails.
func (r Resolver) NextAll(u *UserSchedule, now time.Time) ([]Occurrence, error) {
	out := make([]Occurrence, 0, len(Slots))
	for _, s := range Slots {
		occ, err := r.NextFire(u, s, now)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

// Today returns the current calendar day in the schedule's timezone.
func (r Resolver) Today(u *UserSchedule, now time.Time) (Date, error) {
	loc, err := u.Location()
	if err != nil {
		return "", fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, u.TZ, err)
	}
	return DateOf(now, loc), nil
}

func wrapMinutes(m int) int {
	return ((m % minutesPerDay) + minutesPerDay) % minutesPerDay
}
