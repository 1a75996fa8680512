package domain

import (
	"errors"
	"testing"
	"time"
)

// helper: build a time in given tz and return its UTC
func mustLocalUTC(t *testing.T, tz string, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	lt := time.Date(y, m, d, hh, mm, 0, 0, loc)
	return lt.UTC()
}

func sleeper(tz string) *UserSchedule {
	return &UserSchedule{
		UserID:          42,
		Bedtime:         "23:00",
		WakeTime:        "07:00",
		TZ:              tz,
		UseDefaultTimes: true,
		WeekStart:       time.Monday,
	}
}

func TestNextFire_DefaultsBeforeWake(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("UTC")
	now := mustLocalUTC(t, "UTC", 2026, time.May, 5, 6, 0)

	morning, err := r.NextFire(u, SlotMorning, now)
	if err != nil {
		t.Fatalf("morning: %v", err)
	}
	if want := mustLocalUTC(t, "UTC", 2026, time.May, 5, 8, 0); !morning.At.Equal(want) {
		t.Fatalf("morning: want %s, got %s", want, morning.At)
	}
	if morning.Date != "2026-05-05" {
		t.Fatalf("morning date: want 2026-05-05, got %s", morning.Date)
	}

	evening, err := r.NextFire(u, SlotEvening, now)
	if err != nil {
		t.Fatalf("evening: %v", err)
	}
	if want := mustLocalUTC(t, "UTC", 2026, time.May, 5, 21, 0); !evening.At.Equal(want) {
		t.Fatalf("evening: want %s, got %s", want, evening.At)
	}

	midday, err := r.NextFire(u, SlotMidday, now)
	if err != nil {
		t.Fatalf("midday: %v", err)
	}
	if want := mustLocalUTC(t, "UTC", 2026, time.May, 5, 15, 0); !midday.At.Equal(want) {
		t.Fatalf("midday: want %s, got %s", want, midday.At)
	}
}

func TestNextFire_PassedSlotRollsToTomorrow(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("Europe/Moscow")
	// 09:30 MSK: morning (08:00) already passed.
	now := mustLocalUTC(t, u.TZ, 2026, time.May, 5, 9, 30)

	occ, err := r.NextFire(u, SlotMorning, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	got, _ := LocalizeTime(occ.At, u.TZ)
	if got != "08:00" || occ.Date != "2026-05-06" {
		t.Fatalf("want 08:00 on 2026-05-06, got %s on %s", got, occ.Date)
	}
}

func TestNextFire_ExactlyNowIsNotFuture(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("UTC")
	now := mustLocalUTC(t, "UTC", 2026, time.May, 5, 8, 0)

	occ, err := r.NextFire(u, SlotMorning, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !occ.At.After(now) || occ.Date != "2026-05-06" {
		t.Fatalf("want strictly future occurrence tomorrow, got %s (%s)", occ.At, occ.Date)
	}
}

func TestNextFire_DSTSpringForward(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("America/New_York")
	// Clocks go 02:00 -> 03:00 on 2026-03-08.
	now := mustLocalUTC(t, u.TZ, 2026, time.March, 7, 12, 0)

	occ, err := r.NextFire(u, SlotMorning, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC) // 08:00 EDT
	if !occ.At.Equal(want) {
		t.Fatalf("want %s, got %s", want, occ.At)
	}
	if got, _ := LocalizeTime(occ.At, u.TZ); got != "08:00" {
		t.Fatalf("want local 08:00, got %s", got)
	}
}

func TestNextFire_DSTFallBack(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("America/New_York")
	// Clocks go 02:00 -> 01:00 on 2026-11-01.
	now := mustLocalUTC(t, u.TZ, 2026, time.October, 31, 22, 30)

	occ, err := r.NextFire(u, SlotMorning, now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, time.November, 1, 13, 0, 0, 0, time.UTC) // 08:00 EST
	if !occ.At.Equal(want) {
		t.Fatalf("want %s, got %s", want, occ.At)
	}
}

func TestNextFire_OverridesTakePrecedence(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := sleeper("UTC")
	u.UseDefaultTimes = false
	u.Overrides = map[Slot]string{SlotMorning: "09:15", SlotEvening: "20:45"}

	times, err := r.DailyTimes(u)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if times[SlotMorning] != "09:15" || times[SlotEvening] != "20:45" {
		t.Fatalf("overrides ignored: %v", times)
	}
	// No midday override: fall back to the derived time.
	if times[SlotMidday] != "15:00" {
		t.Fatalf("midday: want 15:00, got %s", times[SlotMidday])
	}

	u.UseDefaultTimes = true
	times, _ = r.DailyTimes(u)
	if times[SlotMorning] != "08:00" {
		t.Fatalf("defaults flag should win over stored overrides, got %s", times[SlotMorning])
	}
}

func TestSlotMinutes_MiddayClamped(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	// Awake 04:00-20:00 -> midpoint 12:00, inside clamp.
	u := &UserSchedule{Bedtime: "20:00", WakeTime: "04:00", TZ: "UTC", UseDefaultTimes: true}
	if m, _ := r.SlotMinutes(u, SlotMidday); m != 12*60 {
		t.Fatalf("want 12:00, got %s", FormatMinutes(m))
	}
	// Awake 05:00-13:00 -> midpoint 09:00, clamped to 11:00.
	u = &UserSchedule{Bedtime: "13:00", WakeTime: "05:00", TZ: "UTC", UseDefaultTimes: true}
	if m, _ := r.SlotMinutes(u, SlotMidday); m != 11*60 {
		t.Fatalf("want 11:00, got %s", FormatMinutes(m))
	}
	// Late sleeper, awake 12:00-04:00 -> midpoint 20:00, clamped to 17:00.
	u = &UserSchedule{Bedtime: "04:00", WakeTime: "12:00", TZ: "UTC", UseDefaultTimes: true}
	if m, _ := r.SlotMinutes(u, SlotMidday); m != 17*60 {
		t.Fatalf("want 17:00, got %s", FormatMinutes(m))
	}
}

func TestSlotMinutes_EveningWrapsMidnight(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	u := &UserSchedule{Bedtime: "01:00", WakeTime: "09:00", TZ: "UTC", UseDefaultTimes: true}
	m, err := r.SlotMinutes(u, SlotEvening)
	if err != nil {
		t.Fatalf("evening: %v", err)
	}
	if got := FormatMinutes(m); got != "23:00" {
		t.Fatalf("want 23:00, got %s", got)
	}
}

func TestNextFire_InvalidSchedule(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	now := time.Date(2026, time.May, 5, 6, 0, 0, 0, time.UTC)

	cases := map[string]*UserSchedule{
		"unknown tz":   {Bedtime: "23:00", WakeTime: "07:00", TZ: "Mars/Olympus", UseDefaultTimes: true},
		"empty tz":     {Bedtime: "23:00", WakeTime: "07:00", TZ: "", UseDefaultTimes: true},
		"bad bedtime":  {Bedtime: "25:00", WakeTime: "07:00", TZ: "UTC", UseDefaultTimes: true},
		"bad wake":     {Bedtime: "23:00", WakeTime: "seven", TZ: "UTC", UseDefaultTimes: true},
		"bad override": {Bedtime: "23:00", WakeTime: "07:00", TZ: "UTC", Overrides: map[Slot]string{SlotMorning: "9"}},
	}
	for name, u := range cases {
		if _, err := r.NextFire(u, SlotMorning, now); !errors.Is(err, ErrInvalidSchedule) {
			t.Fatalf("%s: want ErrInvalidSchedule, got %v", name, err)
		}
		if err := r.Validate(u); !errors.Is(err, ErrInvalidSchedule) {
			t.Fatalf("%s: Validate: want ErrInvalidSchedule, got %v", name, err)
		}
	}
}

func TestNextAll_ReturnsEverySlot(t *testing.T) {
	r := NewResolver(DefaultOffsets())
	now := time.Date(2026, time.May, 5, 6, 0, 0, 0, time.UTC)
	occs, err := r.NextAll(sleeper("Asia/Tokyo"), now)
	if err != nil {
		t.Fatalf("next all: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("want 3 occurrences, got %d", len(occs))
	}
	for i, s := range Slots {
		if occs[i].Slot != s || !occs[i].At.After(now) {
			t.Fatalf("occurrence %d: %+v", i, occs[i])
		}
	}
}
