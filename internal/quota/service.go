package quota

import (
	"context"
	"time"
)

type store interface {
	Ensure(ctx context.Context, userID string) (Quota, error)
	Commit(ctx context.Context, userID string) (Quota, error)
	ResetIfDue(ctx context.Context, userID string, now time.Time) (Quota, bool, error)
	Reset(ctx context.Context, userID string) (Quota, error)
}

// Service manages daily quota state via an underlying store. All mutation
// for one user is additionally serialized by the orchestrator, so store
// atomicity only needs to hold per call.
type Service struct {
	store store
}

// NewService constructs a Service over the given store.
func NewService(s store) *Service {
	return &Service{store: s}
}

// Get returns the current quota for a user, initializing defaults if absent
// and rolling the window if the boundary has passed.
func (s *Service) Get(ctx context.Context, userID string) (Quota, error) {
	return s.store.Ensure(ctx, userID)
}

// CheckAndReserve reports whether one more unit of work may proceed. It
// never mutates usage; the charge happens at Commit after the unit of work
// actually succeeds.
func (s *Service) CheckAndReserve(ctx context.Context, userID string) (bool, Quota, error) {
	q, err := s.store.Ensure(ctx, userID)
	if err != nil {
		return false, Quota{}, err
	}
	return !q.Exhausted(), q, nil
}

// Commit charges one unit of work. Callers must only commit after a
// successful CheckAndReserve within the same serialized section; a commit
// against an exhausted quota returns ErrExhausted.
func (s *Service) Commit(ctx context.Context, userID string) (Quota, error) {
	return s.store.Commit(ctx, userID)
}

// ResetIfDue rolls the window when now has passed the boundary. It is
// idempotent: after a boundary passes, exactly one call reports fired=true
// until the next boundary.
func (s *Service) ResetIfDue(ctx context.Context, userID string, now time.Time) (Quota, bool, error) {
	return s.store.ResetIfDue(ctx, userID, now)
}

// Reset zeroes usage and advances the window regardless of the boundary.
// Exposed on dev and admin surfaces only.
func (s *Service) Reset(ctx context.Context, userID string) (Quota, error) {
	return s.store.Reset(ctx, userID)
}
