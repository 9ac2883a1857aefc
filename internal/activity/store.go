package activity

import "context"

// Store persists per-session activity entries. Append assigns the entry id;
// Tail returns the most recent entries in ascending id order; Clear deletes a
// session's entries and reports how many were removed. Retention is capped
// per session and evicts oldest entries without disturbing id allocation.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	Tail(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Clear(ctx context.Context, sessionID string) (int64, error)
}
