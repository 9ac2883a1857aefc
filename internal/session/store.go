package session

import "context"

// Store persists session records. The registry is the only writer; reads may
// come from anywhere.
type Store interface {
	// Save upserts a record by id.
	Save(ctx context.Context, r Record) error
	// GetBySession returns a record by session id, current or historical.
	GetBySession(ctx context.Context, sessionID string) (Record, error)
	// ListCurrent returns each user's most recent record. Used to rehydrate
	// the registry at boot.
	ListCurrent(ctx context.Context) ([]Record, error)
	// ListByUser returns a user's records newest first, up to limit
	// (limit <= 0 means all).
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
}
