package session

import (
	"context"
	"sync"
)

// historyCap bounds how many records per user the memory store retains.
const historyCap = 50

// MemoryStore keeps session records in process memory. Dev and test use;
// state does not survive restarts.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Record
	byUser map[string][]string // session ids, oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Record),
		byUser: make(map[string][]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.byID[r.ID]
	s.byID[r.ID] = r
	if !existed {
		ids := append(s.byUser[r.UserID], r.ID)
		if len(ids) > historyCap {
			for _, old := range ids[:len(ids)-historyCap] {
				delete(s.byID, old)
			}
			ids = append([]string(nil), ids[len(ids)-historyCap:]...)
		}
		s.byUser[r.UserID] = ids
	}
	return nil
}

func (s *MemoryStore) GetBySession(ctx context.Context, sessionID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListCurrent(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.byUser))
	for _, ids := range s.byUser {
		if len(ids) == 0 {
			continue
		}
		if r, ok := s.byID[ids[len(ids)-1]]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byUser[userID]
	out := make([]Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r, ok := s.byID[ids[i]]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
