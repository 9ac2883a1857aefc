package credentials

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Upsert(ctx context.Context, cred Credential) error {
	const query = `
INSERT INTO automation_credentials (user_id, provider, access_token, refresh_token, token_type, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id, provider) DO UPDATE SET
  access_token = EXCLUDED.access_token,
  refresh_token = EXCLUDED.refresh_token,
  token_type = EXCLUDED.token_type,
  expires_at = EXCLUDED.expires_at,
  updated_at = now()`
	_, err := r.DB.ExecContext(ctx, query,
		cred.UserID,
		cred.Provider,
		cred.Token.AccessToken,
		cred.Token.RefreshToken,
		cred.Token.TokenType,
		nullableTime(cred.Token.Expiry),
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, userID, provider string) (Credential, error) {
	const query = `
SELECT user_id, provider, access_token, refresh_token, token_type, expires_at, updated_at
FROM automation_credentials
WHERE user_id = $1 AND provider = $2
LIMIT 1`
	return scanCredential(r.DB.QueryRowContext(ctx, query, userID, provider))
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	const query = `
SELECT user_id, provider, access_token, refresh_token, token_type, expires_at, updated_at
FROM automation_credentials
WHERE user_id = $1
ORDER BY provider`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (r *PGRepo) Delete(ctx context.Context, userID, provider string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM automation_credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (Credential, error) {
	var cred Credential
	var expiresAt sql.NullTime
	err := row.Scan(
		&cred.UserID,
		&cred.Provider,
		&cred.Token.AccessToken,
		&cred.Token.RefreshToken,
		&cred.Token.TokenType,
		&expiresAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, err
	}
	if expiresAt.Valid {
		cred.Token.Expiry = expiresAt.Time
	}
	return cred, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
