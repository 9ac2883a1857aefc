package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Registry is the single point of truth for each user's current session and
// the only writer of session records. All mutation flows through it so a
// heartbeat update can never race a user stop into a lost write. Records are
// held in memory and written through to the store.
type Registry struct {
	mu       sync.RWMutex
	store    Store
	currents map[string]Record // userID -> most recent record, any status
	owners   map[string]string // sessionID -> userID, current records only
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		currents: make(map[string]Record),
		owners:   make(map[string]string),
	}
}

// Load rehydrates current records from the store. Called once at boot before
// the server accepts traffic.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.ListCurrent(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.currents[rec.UserID] = rec
		r.owners[rec.ID] = rec.UserID
	}
	return nil
}

// PutActive installs a new record as the user's current session. It rejects
// with ErrConflict while a live session exists; the check and the
// write-through happen under one lock so concurrent starts cannot both pass.
func (r *Registry) PutActive(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.currents[rec.UserID]
	if had && prev.Live() {
		return ErrConflict
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return err
	}
	if had {
		delete(r.owners, prev.ID)
	}
	r.currents[rec.UserID] = rec
	r.owners[rec.ID] = rec.UserID
	return nil
}

// Update applies mutate to the current record with the given session id and
// persists the result. Historical sessions are not updatable; stale updates
// get ErrNotFound and are dropped by callers.
func (r *Registry) Update(ctx context.Context, sessionID string, mutate func(*Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := r.currents[userID]
	if !ok || rec.ID != sessionID {
		return Record{}, ErrNotFound
	}

	mutate(&rec)
	rec.ID = sessionID
	rec.UserID = userID
	rec.UpdatedAt = time.Now().UTC()

	if err := r.store.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	r.currents[userID] = rec
	return rec, nil
}

// Current returns the user's most recent session record, any status.
func (r *Registry) Current(userID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.currents[userID]
	return rec, ok
}

// Active returns the user's live session if one exists.
func (r *Registry) Active(userID string) (Record, bool) {
	rec, ok := r.Current(userID)
	if !ok || !rec.Live() {
		return Record{}, false
	}
	return rec, true
}

// BySession returns the current record with the given session id.
func (r *Registry) BySession(sessionID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[sessionID]
	if !ok {
		return Record{}, false
	}
	rec, ok := r.currents[userID]
	if !ok || rec.ID != sessionID {
		return Record{}, false
	}
	return rec, true
}

// All returns every user's current record. Administrative listing.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.currents))
	for _, rec := range r.currents {
		out = append(out, rec)
	}
	return out
}

// LiveCount reports how many users currently hold a live session.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.currents {
		if rec.Live() {
			n++
		}
	}
	return n
}

// History lists a user's sessions newest first.
func (r *Registry) History(ctx context.Context, userID string, limit int) ([]Record, error) {
	return r.store.ListByUser(ctx, userID, limit)
}

// CurrentSessionID resolves the user's most recent session id for the
// activity feed, or "" when the user has never started one.
func (r *Registry) CurrentSessionID(ctx context.Context, userID string) (string, error) {
	if rec, ok := r.Current(userID); ok {
		return rec.ID, nil
	}
	return "", nil
}

// SessionOwner resolves a session's owning user, falling back to the store
// for historical sessions. Returns "" for unknown ids.
func (r *Registry) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	if rec, ok := r.BySession(sessionID); ok {
		return rec.UserID, nil
	}
	rec, err := r.store.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return rec.UserID, nil
}
