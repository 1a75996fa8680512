// Package stats builds weekly check-in statistics from finalized check-ins.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/store"
)

const daysPerWeek = 7

// SlotStats counts terminal outcomes of one slot.
type SlotStats struct {
	Completed int
	Skipped   int
	Expired   int
}

// WeeklyStats covers the days Start <= d < End.
type WeeklyStats struct {
	UserID int64
	Start  domain.Date
	End    domain.Date

	Slots     map[domain.Slot]SlotStats
	Completed int
	Skipped   int
	Expired   int
	// FullDays counts days on which all three slots were completed.
	FullDays int
	// Averages maps an answer field to its mean rating, rounded to two places.
	// Fields without any rating are absent.
	Averages map[string]float64
}

// Total is the number of finalized check-ins of the week.
func (w WeeklyStats) Total() int { return w.Completed + w.Skipped + w.Expired }

// Average returns the mean rating of a field, if any was recorded.
func (w WeeklyStats) Average(field string) (float64, bool) {
	v, ok := w.Averages[field]
	return v, ok
}

// Aggregate computes statistics from terminal check-ins. Non-terminal
// instances are ignored.
func Aggregate(instances []domain.CheckinInstance) WeeklyStats {
	w := WeeklyStats{
		Slots:    make(map[domain.Slot]SlotStats, len(domain.Slots)),
		Averages: map[string]float64{},
	}
	for _, s := range domain.Slots {
		w.Slots[s] = SlotStats{}
	}

	completedSlots := map[domain.Date]map[domain.Slot]bool{}
	sums := map[string]int{}
	counts := map[string]int{}

	for _, c := range instances {
		ss := w.Slots[c.Key.Slot]
		switch c.State {
		case domain.StateCompleted:
			ss.Completed++
			w.Completed++
			if completedSlots[c.Key.Date] == nil {
				completedSlots[c.Key.Date] = map[domain.Slot]bool{}
			}
			completedSlots[c.Key.Date][c.Key.Slot] = true
			for field, v := range c.Answers {
				sums[field] += v
				counts[field]++
			}
		case domain.StateSkipped:
			ss.Skipped++
			w.Skipped++
		case domain.StateExpired:
			ss.Expired++
			w.Expired++
		default:
			continue
		}
		w.Slots[c.Key.Slot] = ss
	}

	for _, slots := range completedSlots {
		if len(slots) == len(domain.Slots) {
			w.FullDays++
		}
	}
	for field, n := range counts {
		w.Averages[field] = math.Round(float64(sums[field])/float64(n)*100) / 100
	}
	return w
}

// WeekStart returns the first day of the week containing d.
func WeekStart(d domain.Date, first time.Weekday) domain.Date {
	back := (int(d.Weekday()) - int(first) + daysPerWeek) % daysPerWeek
	return d.AddDays(-back)
}

// Aggregator reads terminal check-ins from the store on demand.
type Aggregator struct {
	repo store.Repo
}

func NewAggregator(repo store.Repo) *Aggregator {
	return &Aggregator{repo: repo}
}

// Week returns the statistics of the user's week containing now, in the
// user's timezone and anchored at the user's week start.
func (a *Aggregator) Week(ctx context.Context, userID int64, now time.Time) (WeeklyStats, error) {
	u, err := a.repo.GetSchedule(ctx, userID)
	if err != nil {
		return WeeklyStats{}, err
	}
	loc, err := u.Location()
	if err != nil {
		return WeeklyStats{}, fmt.Errorf("%w: timezone %q: %w", domain.ErrInvalidSchedule, u.TZ, err)
	}
	return a.Build(ctx, userID, WeekStart(domain.DateOf(now, loc), u.WeekStart))
}

// Build returns the statistics of the seven days starting at start.
func (a *Aggregator) Build(ctx context.Context, userID int64, start domain.Date) (WeeklyStats, error) {
	end := start.AddDays(daysPerWeek)
	list, err := a.repo.ListTerminal(ctx, userID, start, end)
	if err != nil {
		return WeeklyStats{}, fmt.Errorf("list terminal check-ins: %w", err)
	}
	w := Aggregate(list)
	w.UserID = userID
	w.Start = start
	w.End = end
	return w, nil
}
