package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/store"
)

var at = time.Date(2026, time.October, 12, 9, 0, 0, 0, time.UTC)

func finished(date domain.Date, slot domain.Slot, state domain.State, answers map[string]int) domain.CheckinInstance {
	c := domain.NewReminded(domain.InstanceKey{UserID: 5, Date: date, Slot: slot}, at)
	c.State = state
	c.Answers = answers
	return c
}

func TestAggregate(t *testing.T) {
	list := []domain.CheckinInstance{
		finished("2026-10-12", domain.SlotMorning, domain.StateCompleted, map[string]int{"mood": 4, "energy": 3, "sleep_quality": 5}),
		finished("2026-10-12", domain.SlotMidday, domain.StateCompleted, map[string]int{"mood": 3, "energy": 2, "stress": 4}),
		finished("2026-10-12", domain.SlotEvening, domain.StateCompleted, map[string]int{"mood": 4, "stress": 2, "satisfaction": 5}),
		finished("2026-10-13", domain.SlotMorning, domain.StateCompleted, map[string]int{"mood": 2, "energy": 2, "sleep_quality": 2}),
		finished("2026-10-13", domain.SlotMidday, domain.StateSkipped, nil),
		finished("2026-10-13", domain.SlotEvening, domain.StateExpired, nil),
		finished("2026-10-14", domain.SlotMorning, domain.StateReminded, nil),
	}

	w := Aggregate(list)

	require.Equal(t, 4, w.Completed)
	require.Equal(t, 1, w.Skipped)
	require.Equal(t, 1, w.Expired)
	require.Equal(t, 6, w.Total())
	require.Equal(t, 1, w.FullDays)
	require.Equal(t, SlotStats{Completed: 2}, w.Slots[domain.SlotMorning])
	require.Equal(t, SlotStats{Completed: 1, Skipped: 1}, w.Slots[domain.SlotMidday])
	require.Equal(t, SlotStats{Completed: 1, Expired: 1}, w.Slots[domain.SlotEvening])

	mood, ok := w.Average("mood")
	require.True(t, ok)
	require.InDelta(t, 3.25, mood, 1e-9)
	energy, _ := w.Average("energy")
	require.InDelta(t, 2.33, energy, 1e-9)
	_, ok = w.Average("nonexistent")
	require.False(t, ok)
}

func TestAggregate_Empty(t *testing.T) {
	w := Aggregate(nil)
	require.Zero(t, w.Total())
	require.Zero(t, w.FullDays)
	require.Empty(t, w.Averages)
	require.Len(t, w.Slots, 3)
}

func TestWeekStart(t *testing.T) {
	cases := []struct {
		day   domain.Date
		first time.Weekday
		want  domain.Date
	}{
		{"2026-10-14", time.Monday, "2026-10-12"}, // Wednesday
		{"2026-10-12", time.Monday, "2026-10-12"},
		{"2026-10-11", time.Monday, "2026-10-05"}, // Sunday
		{"2026-10-11", time.Sunday, "2026-10-11"},
		{"2026-10-17", time.Sunday, "2026-10-11"}, // Saturday
		{"2026-01-01", time.Monday, "2025-12-29"}, // across a year boundary
	}
	for _, tc := range cases {
		if got := WeekStart(tc.day, tc.first); got != tc.want {
			t.Fatalf("WeekStart(%s, %s) = %s, want %s", tc.day, tc.first, got, tc.want)
		}
	}
}

func TestAggregator_Week(t *testing.T) {
	ctx := context.Background()
	repo, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.UpsertSchedule(ctx, &domain.UserSchedule{
		UserID: 5, Bedtime: "23:00", WakeTime: "07:00", TZ: "Asia/Tokyo",
		UseDefaultTimes: true, WeekStart: time.Monday,
	}))
	for _, c := range []domain.CheckinInstance{
		finished("2026-10-11", domain.SlotMorning, domain.StateCompleted, map[string]int{"mood": 1}), // previous week
		finished("2026-10-12", domain.SlotMorning, domain.StateCompleted, map[string]int{"mood": 5}),
		finished("2026-10-18", domain.SlotEvening, domain.StateSkipped, nil),
		finished("2026-10-19", domain.SlotEvening, domain.StateSkipped, nil), // next week
	} {
		require.NoError(t, repo.UpsertCheckin(ctx, &c))
	}

	// 2026-10-11 20:00 UTC is already Monday 05:00 in Tokyo.
	w, err := NewAggregator(repo).Week(ctx, 5, time.Date(2026, time.October, 11, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, domain.Date("2026-10-12"), w.Start)
	require.Equal(t, domain.Date("2026-10-19"), w.End)
	require.Equal(t, 1, w.Completed)
	require.Equal(t, 1, w.Skipped)
	mood, _ := w.Average("mood")
	require.Equal(t, 5.0, mood)
}
