package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PGStore persists activity entries in Postgres. Ids come from a BIGSERIAL,
// so they stay monotonic across eviction and clear.
type PGStore struct {
	DB        *sql.DB
	retention int
}

func NewPGStore(db *sql.DB, retention int) *PGStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PGStore{DB: db, retention: retention}
}

func (s *PGStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Level = normalizeLevel(e.Level)

	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return Entry{}, err
		}
		metadata = b
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO activity_log (session_id, ts, action, details, level, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		e.SessionID, e.Timestamp, e.Action, e.Details, e.Level, metadata)
	if err := row.Scan(&e.ID); err != nil {
		return Entry{}, err
	}

	// Opportunistic prune down to the retention window.
	if _, err := s.DB.ExecContext(ctx, `
DELETE FROM activity_log
WHERE session_id = $1
  AND id < (
    SELECT COALESCE(MIN(id), 0)
    FROM (
      SELECT id FROM activity_log
      WHERE session_id = $1
      ORDER BY id DESC
      LIMIT $2
    ) keep
  )`, e.SessionID, s.retention); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *PGStore) Tail(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `
SELECT id, session_id, ts, action, details, level, metadata
FROM activity_log
WHERE session_id = $1
ORDER BY id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `
SELECT id, session_id, ts, action, details, level, metadata
FROM (
  SELECT id, session_id, ts, action, details, level, metadata
  FROM activity_log
  WHERE session_id = $1
  ORDER BY id DESC
  LIMIT $2
) recent
ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PGStore) Clear(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM activity_log WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var metadata []byte
	if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.Action, &e.Details, &e.Level, &metadata); err != nil {
		return Entry{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}
