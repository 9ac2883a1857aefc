package users

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Upsert(ctx context.Context, user User) error {
	plan := user.Plan
	if plan == "" {
		plan = PlanStarter
	}
	const query = `
INSERT INTO users (id, email, name, plan, timezone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  name = EXCLUDED.name,
  updated_at = now()`
	_, err := r.DB.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		plan,
		user.Timezone,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	const query = `
SELECT id, email, name, plan, timezone, created_at, updated_at
FROM users
WHERE id = $1
LIMIT 1`
	var user User
	var updatedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Plan,
		&user.Timezone,
		&user.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if updatedAt.Valid {
		user.UpdatedAt = updatedAt.Time
	} else {
		user.UpdatedAt = time.Now().UTC()
	}
	return user, nil
}

func (r *PGRepo) UpdateSettings(ctx context.Context, userID, plan, timezone string) (User, error) {
	const query = `
UPDATE users SET
  plan = COALESCE(NULLIF($2, ''), plan),
  timezone = COALESCE(NULLIF($3, ''), timezone),
  updated_at = now()
WHERE id = $1
RETURNING id, email, name, plan, timezone, created_at, updated_at`
	var user User
	err := r.DB.QueryRowContext(ctx, query, userID, plan, timezone).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Plan,
		&user.Timezone,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}
