package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyClock   = errors.New("empty time")
	ErrInvalidClock = errors.New("invalid time")
	ErrUnknownTZ    = errors.New("unknown timezone")
	ErrSleepRange   = errors.New("sleep duration out of range")
)

// Sleep duration bounds accepted by ValidateSleepSchedule.
const (
	MinSleep = 4 * time.Hour
	MaxSleep = 12 * time.Hour
)

// ParseClock parses "HH:MM" (also "H:MM" and "HH.MM") into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyClock
	}
	s = strings.Replace(s, ".", ":", 1)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidClock, s)
	}
	if len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidClock, s)
	}
	return h*60 + m, nil
}

// NormalizeClock parses s and returns it re-formatted as HH:MM.
func NormalizeClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatMinutes(m), nil
}

// ParseDailyTimes parses three space or comma separated times (morning, midday, evening).
func ParseDailyTimes(s string) (map[Slot]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\n'
	})
	if len(fields) != len(Slots) {
		return nil, fmt.Errorf("%w: expected %d times, got %d", ErrInvalidClock, len(Slots), len(fields))
	}
	out := make(map[Slot]string, len(Slots))
	for i, f := range fields {
		norm, err := NormalizeClock(f)
		if err != nil {
			return nil, err
		}
		out[Slots[i]] = norm
	}
	return out, nil
}

var tzAliases = map[string]string{
	"kyiv":        "Europe/Kyiv",
	"kiev":        "Europe/Kyiv",
	"ukraine":     "Europe/Kyiv",
	"moscow":      "Europe/Moscow",
	"london":      "Europe/London",
	"uk":          "Europe/London",
	"paris":       "Europe/Paris",
	"berlin":      "Europe/Berlin",
	"warsaw":      "Europe/Warsaw",
	"new york":    "America/New_York",
	"ny":          "America/New_York",
	"los angeles": "America/Los_Angeles",
	"la":          "America/Los_Angeles",
	"chicago":     "America/Chicago",
	"tokyo":       "Asia/Tokyo",
	"beijing":     "Asia/Shanghai",
	"dubai":       "Asia/Dubai",
	"sydney":      "Australia/Sydney",
	"utc":         "UTC",
	"gmt":         "GMT",
}

// ValidateTZ checks that the tz is a valid IANA location. A few common
// city/country aliases are accepted and mapped to their IANA name.
func ValidateTZ(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownTZ)
	}
	if alias, ok := tzAliases[strings.ToLower(tz)]; ok {
		tz = alias
	}
	// time.LoadLocation treats "" and "Local" specially; neither is a user timezone.
	if tz == "Local" {
		return "", fmt.Errorf("%w: %s", ErrUnknownTZ, tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTZ, tz)
	}
	return loc.String(), nil
}

// SleepDuration returns the time between bedtime and wake time, wrapping midnight.
func SleepDuration(bedtime, wake string) (time.Duration, error) {
	bed, err := ParseClock(bedtime)
	if err != nil {
		return 0, fmt.Errorf("bedtime: %w", err)
	}
	up, err := ParseClock(wake)
	if err != nil {
		return 0, fmt.Errorf("wake time: %w", err)
	}
	mins := up - bed
	if mins <= 0 {
		mins += minutesPerDay
	}
	return time.Duration(mins) * time.Minute, nil
}

// ValidateSleepSchedule rejects sleep durations outside [MinSleep, MaxSleep].
func ValidateSleepSchedule(bedtime, wake string) error {
	d, err := SleepDuration(bedtime, wake)
	if err != nil {
		return err
	}
	if d < MinSleep || d > MaxSleep {
		return fmt.Errorf("%w: %s outside %s..%s", ErrSleepRange, d, MinSleep, MaxSleep)
	}
	return nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	mins = ((mins % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// LocalizeTime formats t in user's timezone as HH:MM.
func LocalizeTime(t time.Time, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("15:04"), nil
}
