package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pricewatch/internal/domain"
)

const userColumns = `id, check_interval, notifications_enabled, last_check, created_at`

func scanUser(r rowScanner) (*domain.User, error) {
	var (
		u         domain.User
		lastCheck sql.NullInt64
		createdAt int64
	)
	if err := r.Scan(&u.ID, &u.CheckInterval, &u.NotificationsEnabled, &lastCheck, &createdAt); err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		t := fromMillis(lastCheck.Int64)
		u.LastCheck = &t
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// UpsertUser creates the user with defaults if absent and returns it.
func (s *sqliteStore) UpsertUser(ctx context.Context, id int64) (*domain.User, error) {
	if err := upsertUserTx(ctx, s.db, id, s.defaultInterval, s.nowMillis()); err != nil {
		return nil, storeErr("upsert_user", err)
	}
	return s.GetUser(ctx, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertUserTx(ctx context.Context, ex execer, id int64, interval int, nowMS int64) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO users(id, check_interval, notifications_enabled, created_at)
		 VALUES(?, ?, 1, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, interval, nowMS,
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get_user", err)
	}
	return u, nil
}

// UpdateUserSettings validates before touching the row; an out-of-range
// interval leaves the user unchanged.
func (s *sqliteStore) UpdateUserSettings(ctx context.Context, id int64, set domain.UserSettings) (*domain.User, error) {
	var interval, enabled any
	if set.CheckInterval != nil {
		if err := domain.ValidateInterval(*set.CheckInterval); err != nil {
			return nil, err
		}
		interval = *set.CheckInterval
	}
	if set.NotificationsEnabled != nil {
		enabled = *set.NotificationsEnabled
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET
			check_interval = COALESCE(?, check_interval),
			notifications_enabled = COALESCE(?, notifications_enabled)
		 WHERE id = ?`,
		interval, enabled, id,
	)
	if err := rowsOrNotFound("update_user_settings", res, err); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

func (s *sqliteStore) MarkChecked(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_check = ? WHERE id = ?`, toMillis(at), id)
	return rowsOrNotFound("mark_checked", res, err)
}

// UsersDueForCheck narrows candidates in SQL (enabled, at least one
// subscription) and applies domain.IsDue for the interval rule.
func (s *sqliteStore) UsersDueForCheck(ctx context.Context, now time.Time) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.check_interval, u.notifications_enabled, u.last_check, u.created_at,
		        (SELECT COUNT(*) FROM subscriptions s WHERE s.user_id = u.id) AS item_count
		 FROM users u
		 WHERE u.notifications_enabled = 1
		   AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.user_id = u.id)
		   AND (u.last_check IS NULL OR u.last_check + u.check_interval * 60000 <= ?)
		 ORDER BY u.id`,
		toMillis(now),
	)
	if err != nil {
		return nil, storeErr("users_due", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var (
			u         domain.User
			lastCheck sql.NullInt64
			createdAt int64
			count     int
		)
		if err := rows.Scan(&u.ID, &u.CheckInterval, &u.NotificationsEnabled, &lastCheck, &createdAt, &count); err != nil {
			return nil, storeErr("users_due", err)
		}
		if lastCheck.Valid {
			t := fromMillis(lastCheck.Int64)
			u.LastCheck = &t
		}
		u.CreatedAt = fromMillis(createdAt)
		if domain.IsDue(u, count, now) {
			out = append(out, u)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("users_due", err)
	}
	return out, nil
}
