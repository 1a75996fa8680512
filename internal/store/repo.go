package store

import (
	"context"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// Repo defines storage operations for schedules and check-ins.
// Lookups of missing rows return an error wrapping domain.ErrNotFound.
type Repo interface {
	UpsertSchedule(ctx context.Context, s *domain.UserSchedule) error
	GetSchedule(ctx context.Context, userID int64) (*domain.UserSchedule, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	// DeleteUser removes the schedule and every check-in of the user.
	DeleteUser(ctx context.Context, userID int64) error

	UpsertCheckin(ctx context.Context, c *domain.CheckinInstance) error
	GetCheckin(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error)
	// ListLive returns the user's check-ins still in the reminded state.
	ListLive(ctx context.Context, userID int64) ([]domain.CheckinInstance, error)
	// ListTerminal returns finalized check-ins with from <= date < to, ordered by date.
	ListTerminal(ctx context.Context, userID int64, from, to domain.Date) ([]domain.CheckinInstance, error)

	Close() error
}
