package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore persists session records in Postgres. The partial unique index on
// live statuses backstops the registry's at-most-one-active invariant.
type PGStore struct {
	DB *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db}
}

const sessionColumns = `id, user_id, status, stop_reason, error_code, current_task, progress, tasks_completed, submitted, restart_count, started_at, last_heartbeat_at, stopped_at, created_at, updated_at`

func (s *PGStore) Save(ctx context.Context, r Record) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  stop_reason = EXCLUDED.stop_reason,
  error_code = EXCLUDED.error_code,
  current_task = EXCLUDED.current_task,
  progress = EXCLUDED.progress,
  tasks_completed = EXCLUDED.tasks_completed,
  submitted = EXCLUDED.submitted,
  restart_count = EXCLUDED.restart_count,
  started_at = EXCLUDED.started_at,
  last_heartbeat_at = EXCLUDED.last_heartbeat_at,
  stopped_at = EXCLUDED.stopped_at,
  updated_at = EXCLUDED.updated_at`,
		r.ID, r.UserID, r.Status, r.StopReason, r.ErrorCode, r.CurrentTask,
		r.Progress, r.TasksCompleted, r.Submitted, r.RestartCount,
		r.StartedAt, nullableTime(r.LastHeartbeatAt), r.StoppedAt,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PGStore) GetBySession(ctx context.Context, sessionID string) (Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (s *PGStore) ListCurrent(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT ON (user_id) `+sessionColumns+`
FROM sessions
ORDER BY user_id, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var heartbeat, stopped sql.NullTime
	if err := row.Scan(
		&r.ID, &r.UserID, &r.Status, &r.StopReason, &r.ErrorCode, &r.CurrentTask,
		&r.Progress, &r.TasksCompleted, &r.Submitted, &r.RestartCount,
		&r.StartedAt, &heartbeat, &stopped, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	if heartbeat.Valid {
		r.LastHeartbeatAt = heartbeat.Time
	}
	if stopped.Valid {
		t := stopped.Time
		r.StoppedAt = &t
	}
	return r, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
