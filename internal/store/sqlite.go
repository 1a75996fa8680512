package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

var _ Repo = (*SQLiteRepo)(nil)

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single-writer engine: one connection also serializes upserts per natural key.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// UpsertSchedule inserts or updates a user's schedule.
func (r *SQLiteRepo) UpsertSchedule(ctx context.Context, s *domain.UserSchedule) error {
	if s == nil {
		return errors.New("nil schedule")
	}

	now := time.Now().UTC().Unix()
	created := s.CreatedAt.UTC().Unix()
	if s.CreatedAt.IsZero() {
		created = now
	}
	morning, mok := s.Overrides[domain.SlotMorning]
	midday, dok := s.Overrides[domain.SlotMidday]
	evening, eok := s.Overrides[domain.SlotEvening]

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (
			user_id, created_at, updated_at, bedtime, wake_time, tz,
			use_default_times, morning_at, midday_at, evening_at, week_start
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			updated_at        = excluded.updated_at,
			bedtime           = excluded.bedtime,
			wake_time         = excluded.wake_time,
			tz                = excluded.tz,
			use_default_times = excluded.use_default_times,
			morning_at        = excluded.morning_at,
			midday_at         = excluded.midday_at,
			evening_at        = excluded.evening_at,
			week_start        = excluded.week_start`,
		s.UserID, created, now, s.Bedtime, s.WakeTime, s.TZ,
		boolToInt(s.UseDefaultTimes),
		toNullString(morning, mok), toNullString(midday, dok), toNullString(evening, eok),
		int(s.WeekStart),
	)
	return err
}

// GetSchedule returns a user's schedule or an error wrapping domain.ErrNotFound.
func (r *SQLiteRepo) GetSchedule(ctx context.Context, userID int64) (*domain.UserSchedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, created_at, updated_at, bedtime, wake_time, tz,
		       use_default_times, morning_at, midday_at, evening_at, week_start
		FROM schedules
		WHERE user_id = ?`,
		userID,
	)

	var (
		s                        domain.UserSchedule
		createdAt, updatedAt     int64
		useDefault, weekStart    int
		morning, midday, evening sql.NullString
	)
	if err := row.Scan(
		&s.UserID, &createdAt, &updatedAt, &s.Bedtime, &s.WakeTime, &s.TZ,
		&useDefault, &morning, &midday, &evening, &weekStart,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %d: %w", userID, domain.ErrNotFound)
		}
		return nil, err
	}

	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	s.UseDefaultTimes = useDefault != 0
	s.WeekStart = time.Weekday(weekStart)
	s.Overrides = make(map[domain.Slot]string, 3)
	for slot, v := range map[domain.Slot]sql.NullString{
		domain.SlotMorning: morning,
		domain.SlotMidday:  midday,
		domain.SlotEvening: evening,
	} {
		if v.Valid {
			s.Overrides[slot] = v.String
		}
	}
	return &s, nil
}

// ListUserIDs returns every user with a stored schedule.
func (r *SQLiteRepo) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM schedules ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUser removes the schedule and all check-ins in one transaction.
func (r *SQLiteRepo) DeleteUser(ctx context.Context, userID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkins WHERE user_id = ?`, userID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE user_id = ?`, userID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpsertCheckin writes a check-in keyed by (user, date, slot).
func (r *SQLiteRepo) UpsertCheckin(ctx context.Context, c *domain.CheckinInstance) error {
	if c == nil {
		return errors.New("nil check-in")
	}
	answers, err := encodeAnswers(c.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkins (
			user_id, entry_date, slot, state, remind_later_count, answers,
			reminded_at, retry_at, completed_at, skipped_at, expired_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, entry_date, slot) DO UPDATE SET
			state              = excluded.state,
			remind_later_count = excluded.remind_later_count,
			answers            = excluded.answers,
			reminded_at        = excluded.reminded_at,
			retry_at           = excluded.retry_at,
			completed_at       = excluded.completed_at,
			skipped_at         = excluded.skipped_at,
			expired_at         = excluded.expired_at`,
		c.Key.UserID, string(c.Key.Date), string(c.Key.Slot), string(c.State),
		c.RemindLaterCount, answers,
		toNullInt64(c.RemindedAt), toNullInt64(c.RetryAt), toNullInt64(c.CompletedAt),
		toNullInt64(c.SkippedAt), toNullInt64(c.ExpiredAt),
	)
	return err
}

const checkinColumns = `user_id, entry_date, slot, state, remind_later_count, answers,
	reminded_at, retry_at, completed_at, skipped_at, expired_at`

// GetCheckin returns the check-in for a natural key or an error wrapping domain.ErrNotFound.
func (r *SQLiteRepo) GetCheckin(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+checkinColumns+`
		FROM checkins
		WHERE user_id = ? AND entry_date = ? AND slot = ?`,
		key.UserID, string(key.Date), string(key.Slot),
	)
	c, err := scanCheckin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check-in %s: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}
	return c, nil
}

// ListLive returns reminded check-ins of a user, oldest first.
func (r *SQLiteRepo) ListLive(ctx context.Context, userID int64) ([]domain.CheckinInstance, error) {
	return r.queryCheckins(ctx, `
		SELECT `+checkinColumns+`
		FROM checkins
		WHERE user_id = ? AND state = ?
		ORDER BY entry_date ASC, slot ASC`,
		userID, string(domain.StateReminded),
	)
}

// ListTerminal returns finalized check-ins in [from, to).
func (r *SQLiteRepo) ListTerminal(ctx context.Context, userID int64, from, to domain.Date) ([]domain.CheckinInstance, error) {
	return r.queryCheckins(ctx, `
		SELECT `+checkinColumns+`
		FROM checkins
		WHERE user_id = ?
		  AND entry_date >= ? AND entry_date < ?
		  AND state IN (?, ?, ?)
		ORDER BY entry_date ASC, slot ASC`,
		userID, string(from), string(to),
		string(domain.StateCompleted), string(domain.StateSkipped), string(domain.StateExpired),
	)
}

func (r *SQLiteRepo) queryCheckins(ctx context.Context, query string, args ...any) ([]domain.CheckinInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.CheckinInstance
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckin(row rowScanner) (*domain.CheckinInstance, error) {
	var (
		c                                domain.CheckinInstance
		date, slot, state                string
		answers                          sql.NullString
		remindedNS, retryNS, completedNS sql.NullInt64
		skippedNS, expiredNS             sql.NullInt64
	)
	if err := row.Scan(
		&c.Key.UserID, &date, &slot, &state, &c.RemindLaterCount, &answers,
		&remindedNS, &retryNS, &completedNS, &skippedNS, &expiredNS,
	); err != nil {
		return nil, err
	}
	a, err := decodeAnswers(answers)
	if err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}

	c.Key.Date = domain.Date(date)
	c.Key.Slot = domain.Slot(slot)
	c.State = domain.State(state)
	c.Answers = a
	c.RemindedAt = fromNullInt64(remindedNS)
	c.RetryAt = fromNullInt64(retryNS)
	c.CompletedAt = fromNullInt64(completedNS)
	c.SkippedAt = fromNullInt64(skippedNS)
	c.ExpiredAt = fromNullInt64(expiredNS)
	return &c, nil
}
