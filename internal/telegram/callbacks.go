package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// Static callback payloads.
const (
	cbSetBedtime   = "set_bed"
	cbSetWake      = "set_wake"
	cbSetTZ        = "set_tz"
	cbSetTimes     = "set_times"
	cbSetWeek      = "set_week"
	cbTimesDefault = "times:default"
	cbTimesCustom  = "times:custom"
	cbDeleteYes    = "del:yes"
	cbDeleteNo     = "del:no"
)

// Reminder button actions.
const (
	actionStart = "start"
	actionLater = "later"
	actionSkip  = "skip"
)

const (
	prefixCheckin = "ci:"
	prefixRating  = "rate:"
	prefixWeek    = "week:"
	prefixTZ      = "tz:"
)

var errBadCallback = errors.New("malformed callback data")

// checkinData encodes a reminder button as ci:<action>:<date>:<slot>.
func checkinData(action string, date domain.Date, slot domain.Slot) string {
	return prefixCheckin + action + ":" + string(date) + ":" + string(slot)
}

func parseCheckinData(data string) (string, domain.InstanceKey, error) {
	parts := strings.Split(strings.TrimPrefix(data, prefixCheckin), ":")
	if len(parts) != 3 {
		return "", domain.InstanceKey{}, fmt.Errorf("%w: %q", errBadCallback, data)
	}
	switch parts[0] {
	case actionStart, actionLater, actionSkip:
	default:
		return "", domain.InstanceKey{}, fmt.Errorf("%w: action %q", errBadCallback, parts[0])
	}
	date, err := domain.ParseDate(parts[1])
	if err != nil {
		return "", domain.InstanceKey{}, fmt.Errorf("%w: %w", errBadCallback, err)
	}
	slot, err := domain.ParseSlot(parts[2])
	if err != nil {
		return "", domain.InstanceKey{}, fmt.Errorf("%w: %w", errBadCallback, err)
	}
	return parts[0], domain.InstanceKey{Date: date, Slot: slot}, nil
}

func ratingData(v int) string { return prefixRating + strconv.Itoa(v) }

func parseRatingData(data string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(data, prefixRating))
	if err != nil || v < domain.MinRating || v > domain.MaxRating {
		return 0, fmt.Errorf("%w: %q", errBadCallback, data)
	}
	return v, nil
}

func weekStartData(d time.Weekday) string { return prefixWeek + strconv.Itoa(int(d)) }

func parseWeekStartData(data string) (time.Weekday, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(data, prefixWeek))
	if err != nil || v < int(time.Sunday) || v > int(time.Saturday) {
		return 0, fmt.Errorf("%w: %q", errBadCallback, data)
	}
	return time.Weekday(v), nil
}
