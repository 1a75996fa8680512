package domain

import "time"

// UserSchedule holds the per-user data the scheduler derives slot times from.
type UserSchedule struct {
	UserID          int64
	Bedtime         string // local HH:MM
	WakeTime        string // local HH:MM
	TZ              string // IANA name
	UseDefaultTimes bool
	Overrides       map[Slot]string // local HH:MM, used when UseDefaultTimes is false
	WeekStart       time.Weekday
	CreatedAt       time.Time // UTC
	UpdatedAt       time.Time // UTC
}

// Override returns the explicit time for a slot, if any.
func (u *UserSchedule) Override(s Slot) (string, bool) {
	if u.UseDefaultTimes || u.Overrides == nil {
		return "", false
	}
	v, ok := u.Overrides[s]
	return v, ok && v != ""
}

// Location loads the schedule's timezone. It never falls back to another zone.
func (u *UserSchedule) Location() (*time.Location, error) {
	if u.TZ == "" || u.TZ == "Local" {
		return nil, ErrUnknownTZ
	}
	return time.LoadLocation(u.TZ)
}
