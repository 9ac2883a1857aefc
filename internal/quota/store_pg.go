package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type pgStore struct {
	DB       *sql.DB
	defaults Defaults
}

// NewPGStore constructs a Postgres-backed quota store.
func NewPGStore(db *sql.DB, defaults Defaults) *pgStore {
	if defaults == nil {
		defaults = StaticDefaults(10, time.UTC)
	}
	return &pgStore{DB: db, defaults: defaults}
}

func (s *pgStore) Ensure(ctx context.Context, userID string) (Quota, error) {
	q, _, err := s.withTx(ctx, func(tx *sql.Tx) (Quota, bool, error) {
		return s.lockAndEnsure(ctx, tx, userID, time.Now().UTC())
	})
	return q, err
}

func (s *pgStore) Commit(ctx context.Context, userID string) (Quota, error) {
	q, _, err := s.withTx(ctx, func(tx *sql.Tx) (Quota, bool, error) {
		q, _, err := s.lockAndEnsure(ctx, tx, userID, time.Now().UTC())
		if err != nil {
			return Quota{}, false, err
		}
		if q.Exhausted() {
			return Quota{}, false, ErrExhausted
		}
		q.Used++
		if _, err := tx.ExecContext(ctx,
			`UPDATE quotas SET used = $1, updated_at = now() WHERE user_id = $2`,
			q.Used, userID); err != nil {
			return Quota{}, false, err
		}
		return q, false, nil
	})
	return q, err
}

func (s *pgStore) ResetIfDue(ctx context.Context, userID string, now time.Time) (Quota, bool, error) {
	return s.withTx(ctx, func(tx *sql.Tx) (Quota, bool, error) {
		return s.lockAndEnsure(ctx, tx, userID, now.UTC())
	})
}

func (s *pgStore) Reset(ctx context.Context, userID string) (Quota, error) {
	now := time.Now().UTC()
	limit, resetsAt := s.defaults(ctx, userID, now)
	q, _, err := s.withTx(ctx, func(tx *sql.Tx) (Quota, bool, error) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO quotas (user_id, used, daily_limit, resets_at, updated_at)
VALUES ($1, 0, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE SET used = 0, daily_limit = EXCLUDED.daily_limit, resets_at = EXCLUDED.resets_at, updated_at = now()`,
			userID, limit, resetsAt); err != nil {
			return Quota{}, false, err
		}
		return Quota{UserID: userID, Limit: limit, Used: 0, ResetsAt: resetsAt}, false, nil
	})
	return q, err
}

func (s *pgStore) withTx(ctx context.Context, fn func(tx *sql.Tx) (Quota, bool, error)) (Quota, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Quota{}, false, err
	}
	q, fired, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return Quota{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Quota{}, false, err
	}
	return q, fired, nil
}

// lockAndEnsure reads the row FOR UPDATE, creating it with plan defaults if
// absent and rolling the window once the boundary has passed.
func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (Quota, bool, error) {
	q := Quota{UserID: userID}
	row := tx.QueryRowContext(ctx,
		`SELECT used, daily_limit, resets_at FROM quotas WHERE user_id = $1 FOR UPDATE`, userID)
	err := row.Scan(&q.Used, &q.Limit, &q.ResetsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			limit, resetsAt := s.defaults(ctx, userID, now)
			q = Quota{UserID: userID, Limit: limit, Used: 0, ResetsAt: resetsAt}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO quotas (user_id, daily_limit, used, resets_at) VALUES ($1, $2, $3, $4)`,
				userID, q.Limit, q.Used, q.ResetsAt); err != nil {
				return Quota{}, false, err
			}
			return q, false, nil
		}
		return Quota{}, false, err
	}

	if now.Before(q.ResetsAt) {
		return q, false, nil
	}

	limit, resetsAt := s.defaults(ctx, userID, now)
	q.Used = 0
	q.Limit = limit
	q.ResetsAt = resetsAt
	if _, err := tx.ExecContext(ctx,
		`UPDATE quotas SET used = 0, daily_limit = $1, resets_at = $2, updated_at = now() WHERE user_id = $3`,
		q.Limit, q.ResetsAt, userID); err != nil {
		return Quota{}, false, err
	}
	return q, true, nil
}
