package domain

import (
	"errors"
	"testing"
)

func TestParseClock(t *testing.T) {
	ok := map[string]int{"07:00": 420, "7:05": 425, "23.30": 1410, " 00:00 ": 0}
	for in, want := range ok {
		got, err := ParseClock(in)
		if err != nil || got != want {
			t.Fatalf("%q: want %d, got %d (%v)", in, want, got, err)
		}
	}
	for _, in := range []string{"", "24:00", "12:60", "12", "12:5", "ab:cd"} {
		if _, err := ParseClock(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestParseDailyTimes(t *testing.T) {
	got, err := ParseDailyTimes("8:00, 13:30 21:15")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got[SlotMorning] != "08:00" || got[SlotMidday] != "13:30" || got[SlotEvening] != "21:15" {
		t.Fatalf("unexpected: %v", got)
	}
	if _, err := ParseDailyTimes("08:00 13:00"); !errors.Is(err, ErrInvalidClock) {
		t.Fatalf("want ErrInvalidClock, got %v", err)
	}
}

func TestValidateTZ(t *testing.T) {
	if tz, err := ValidateTZ("kyiv"); err != nil || tz != "Europe/Kyiv" {
		t.Fatalf("alias: got %q, %v", tz, err)
	}
	if tz, err := ValidateTZ("Asia/Almaty"); err != nil || tz != "Asia/Almaty" {
		t.Fatalf("iana: got %q, %v", tz, err)
	}
	for _, in := range []string{"", "Local", "Nowhere/City"} {
		if _, err := ValidateTZ(in); !errors.Is(err, ErrUnknownTZ) {
			t.Fatalf("%q: want ErrUnknownTZ, got %v", in, err)
		}
	}
}

func TestValidateSleepSchedule(t *testing.T) {
	if err := ValidateSleepSchedule("23:00", "07:00"); err != nil {
		t.Fatalf("8h: %v", err)
	}
	if err := ValidateSleepSchedule("03:00", "05:00"); !errors.Is(err, ErrSleepRange) {
		t.Fatalf("2h should be rejected, got %v", err)
	}
	if err := ValidateSleepSchedule("20:00", "10:00"); err == nil {
		t.Fatal("14h should be rejected")
	}
}

func TestDateArithmetic(t *testing.T) {
	d := Date("2026-12-31")
	if d.AddDays(1) != "2027-01-01" {
		t.Fatalf("got %s", d.AddDays(1))
	}
	if !Date("2026-05-04").Before(Date("2026-05-05")) {
		t.Fatal("expected ordering")
	}
	if Date("2026-10-12").Weekday().String() != "Monday" {
		t.Fatalf("got %s", Date("2026-10-12").Weekday())
	}
}
