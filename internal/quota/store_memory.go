package quota

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	data     map[string]Quota
	defaults Defaults
}

// NewMemoryStore constructs an in-memory quota store. Suitable for dev and
// tests; state does not survive restarts.
func NewMemoryStore(defaults Defaults) *memoryStore {
	if defaults == nil {
		defaults = StaticDefaults(10, time.UTC)
	}
	return &memoryStore{
		data:     make(map[string]Quota),
		defaults: defaults,
	}
}

func (s *memoryStore) Ensure(ctx context.Context, userID string) (Quota, error) {
	if err := ctx.Err(); err != nil {
		return Quota{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, _, err := s.ensureLocked(ctx, userID, time.Now().UTC())
	return q, err
}

func (s *memoryStore) Commit(ctx context.Context, userID string) (Quota, error) {
	if err := ctx.Err(); err != nil {
		return Quota{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, _, err := s.ensureLocked(ctx, userID, time.Now().UTC())
	if err != nil {
		return Quota{}, err
	}
	if q.Exhausted() {
		return Quota{}, ErrExhausted
	}
	q.Used++
	s.data[userID] = q
	return q, nil
}

func (s *memoryStore) ResetIfDue(ctx context.Context, userID string, now time.Time) (Quota, bool, error) {
	if err := ctx.Err(); err != nil {
		return Quota{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx, userID, now.UTC())
}

func (s *memoryStore) Reset(ctx context.Context, userID string) (Quota, error) {
	if err := ctx.Err(); err != nil {
		return Quota{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	limit, resetsAt := s.defaults(ctx, userID, now)
	q := Quota{UserID: userID, Limit: limit, Used: 0, ResetsAt: resetsAt}
	s.data[userID] = q
	return q, nil
}

// ensureLocked lazily creates the quota and rolls the window once the
// boundary passes. The returned bool reports whether an overdue window was
// reset by this call.
func (s *memoryStore) ensureLocked(ctx context.Context, userID string, now time.Time) (Quota, bool, error) {
	q, ok := s.data[userID]
	if !ok {
		limit, resetsAt := s.defaults(ctx, userID, now)
		q = Quota{UserID: userID, Limit: limit, Used: 0, ResetsAt: resetsAt}
		s.data[userID] = q
		return q, false, nil
	}
	if now.Before(q.ResetsAt) {
		return q, false, nil
	}
	limit, resetsAt := s.defaults(ctx, userID, now)
	q.Used = 0
	q.Limit = limit
	q.ResetsAt = resetsAt
	s.data[userID] = q
	return q, true, nil
}

// Seed force-sets a quota row, bypassing defaults. Test helper.
func (s *memoryStore) Seed(q Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[q.UserID] = q
}
