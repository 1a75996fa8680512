package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/store"
)

var morningKey = domain.InstanceKey{UserID: 42, Date: "2026-05-05", Slot: domain.SlotMorning}

var fullMorning = map[string]int{
	domain.FieldSleepQuality: 4,
	domain.FieldMood:         3,
	domain.FieldEnergy:       5,
}

func newTestEngine(t *testing.T) (*Engine, store.Repo) {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := func() time.Time { return time.Date(2026, time.May, 5, 8, 0, 0, 0, time.UTC) }
	e := NewEngine(repo, zap.NewNop(), nil, now, Options{RemindLimit: 3, RetryDelay: 15 * time.Minute})
	return e, repo
}

func TestCreateOnFire_IdempotentUnderConcurrency(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok, err := e.CreateOnFire(ctx, morningKey)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if c.State != domain.StateReminded {
				t.Errorf("unexpected state %s", c.State)
			}
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), created.Load())
	live, err := repo.ListLive(ctx, morningKey.UserID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Zero(t, e.locks.Len(), "keyed locks must be released")
}

func TestCreateOnFire_DoesNotResurrectFinalized(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.CreateOnFire(ctx, morningKey)
	require.NoError(t, err)
	_, err = e.Skip(ctx, morningKey)
	require.NoError(t, err)

	c, created, err := e.CreateOnFire(ctx, morningKey)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, domain.StateSkipped, c.State)
}

func TestTerminalTransition_FirstWins(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	_, _, err := e.CreateOnFire(ctx, morningKey)
	require.NoError(t, err)

	var wins, finalized atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = e.Complete(ctx, morningKey, fullMorning)
			case 1:
				_, err = e.Skip(ctx, morningKey)
			default:
				_, err = e.Expire(ctx, morningKey)
			}
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyFinalized):
				finalized.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(9), finalized.Load())

	c, err := repo.GetCheckin(ctx, morningKey)
	require.NoError(t, err)
	require.True(t, c.State.Terminal())
}

func TestRemindLater_CapPersists(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	_, _, err := e.CreateOnFire(ctx, morningKey)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		c, err := e.RemindLater(ctx, morningKey)
		require.NoError(t, err)
		require.Equal(t, i, c.RemindLaterCount)
		require.NotNil(t, c.RetryAt)
	}
	_, err = e.RemindLater(ctx, morningKey)
	require.ErrorIs(t, err, domain.ErrRemindLimitReached)

	c, err := repo.GetCheckin(ctx, morningKey)
	require.NoError(t, err)
	require.Equal(t, domain.StateReminded, c.State)
	require.Equal(t, 3, c.RemindLaterCount)
}

func TestComplete_ValidatesAnswers(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, _, err := e.CreateOnFire(ctx, morningKey)
	require.NoError(t, err)

	_, err = e.Complete(ctx, morningKey, map[string]int{domain.FieldMood: 9})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	c, err := e.Complete(ctx, morningKey, fullMorning)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, c.State)
	require.Equal(t, fullMorning, c.Answers)
}

func TestTransition_MissingInstance(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Skip(context.Background(), morningKey)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrigger_ManualPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	c, created, err := e.Trigger(ctx, morningKey)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, domain.StateReminded, c.State)

	_, created, err = e.Trigger(ctx, morningKey)
	require.NoError(t, err)
	require.False(t, created)

	_, err = e.Complete(ctx, morningKey, fullMorning)
	require.NoError(t, err)
	_, _, err = e.Trigger(ctx, morningKey)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestExpireStale_OnlyOlderSameSlot(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	old := domain.InstanceKey{UserID: 42, Date: "2026-05-04", Slot: domain.SlotMorning}
	otherSlot := domain.InstanceKey{UserID: 42, Date: "2026-05-04", Slot: domain.SlotEvening}
	for _, k := range []domain.InstanceKey{old, otherSlot, morningKey} {
		_, _, err := e.CreateOnFire(ctx, k)
		require.NoError(t, err)
	}

	expired, err := e.ExpireStale(ctx, 42, domain.SlotMorning, "2026-05-05")
	require.NoError(t, err)
	require.Equal(t, []domain.InstanceKey{old}, expired)

	live, err := repo.ListLive(ctx, 42)
	require.NoError(t, err)
	require.Len(t, live, 2)
}
