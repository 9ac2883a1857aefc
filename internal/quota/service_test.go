package quota

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckAndReserveDoesNotConsume(t *testing.T) {
	svc := NewService(NewMemoryStore(StaticDefaults(2, time.UTC)))

	for i := 0; i < 5; i++ {
		ok, q, err := svc.CheckAndReserve(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("check and reserve: %v", err)
		}
		if !ok {
			t.Fatalf("expected reserve to pass on attempt %d", i)
		}
		if q.Used != 0 {
			t.Fatalf("expected usage untouched, got %d", q.Used)
		}
	}

	q, err := svc.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if q.Used != 0 {
		t.Fatalf("expected used 0 after repeated checks, got %d", q.Used)
	}
}

func TestCommitChargesExactlyOneUnit(t *testing.T) {
	svc := NewService(NewMemoryStore(StaticDefaults(5, time.UTC)))

	q, err := svc.Commit(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if q.Used != 1 {
		t.Fatalf("expected used 1, got %d", q.Used)
	}
	if q.Remaining() != 4 {
		t.Fatalf("expected remaining 4, got %d", q.Remaining())
	}
}

func TestCommitStopsAtLimit(t *testing.T) {
	svc := NewService(NewMemoryStore(StaticDefaults(2, time.UTC)))

	for i := 0; i < 2; i++ {
		if _, err := svc.Commit(context.Background(), "user-1"); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	if _, err := svc.Commit(context.Background(), "user-1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	ok, q, err := svc.CheckAndReserve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("check and reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected reserve to fail at limit")
	}
	if q.Used != 2 {
		t.Fatalf("expected used capped at 2, got %d", q.Used)
	}
}

func TestAbsentUserGetsDefaults(t *testing.T) {
	svc := NewService(NewMemoryStore(nil))

	q, err := svc.Get(context.Background(), "fresh-user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if q.Limit != 10 {
		t.Fatalf("expected default limit 10, got %d", q.Limit)
	}
	if q.Used != 0 {
		t.Fatalf("expected used 0, got %d", q.Used)
	}
	if !q.ResetsAt.After(time.Now().UTC()) {
		t.Fatalf("expected reset boundary in the future, got %v", q.ResetsAt)
	}
}

func TestResetIfDueRollsOverdueWindowOnce(t *testing.T) {
	st := NewMemoryStore(StaticDefaults(5, time.UTC))
	svc := NewService(st)

	now := time.Now().UTC()
	st.Seed(Quota{UserID: "user-1", Limit: 5, Used: 5, ResetsAt: now.Add(-time.Hour)})

	q, fired, err := svc.ResetIfDue(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("reset if due: %v", err)
	}
	if !fired {
		t.Fatalf("expected first call past the boundary to fire")
	}
	if q.Used != 0 {
		t.Fatalf("expected used zeroed, got %d", q.Used)
	}
	if !q.ResetsAt.After(now) {
		t.Fatalf("expected boundary advanced past now, got %v", q.ResetsAt)
	}

	q2, fired2, err := svc.ResetIfDue(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("second reset if due: %v", err)
	}
	if fired2 {
		t.Fatalf("expected second call to be a no-op")
	}
	if q2.Used != 0 || !q2.ResetsAt.Equal(q.ResetsAt) {
		t.Fatalf("expected state unchanged, got used %d boundary %v", q2.Used, q2.ResetsAt)
	}
}

func TestResetIfDueBeforeBoundaryIsNoop(t *testing.T) {
	st := NewMemoryStore(StaticDefaults(5, time.UTC))
	svc := NewService(st)

	now := time.Now().UTC()
	boundary := now.Add(time.Hour)
	st.Seed(Quota{UserID: "user-1", Limit: 5, Used: 3, ResetsAt: boundary})

	q, fired, err := svc.ResetIfDue(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("reset if due: %v", err)
	}
	if fired {
		t.Fatalf("expected no reset before the boundary")
	}
	if q.Used != 3 || !q.ResetsAt.Equal(boundary) {
		t.Fatalf("expected state untouched, got used %d boundary %v", q.Used, q.ResetsAt)
	}
}

func TestWindowRollPicksUpNewLimit(t *testing.T) {
	limit := 10
	defaults := func(ctx context.Context, userID string, now time.Time) (int, time.Time) {
		return limit, NextReset(now, time.UTC)
	}
	st := NewMemoryStore(defaults)
	svc := NewService(st)

	now := time.Now().UTC()
	st.Seed(Quota{UserID: "user-1", Limit: 10, Used: 10, ResetsAt: now.Add(-time.Minute)})

	limit = 50 // plan upgraded mid-window
	q, fired, err := svc.ResetIfDue(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("reset if due: %v", err)
	}
	if !fired {
		t.Fatalf("expected overdue window to roll")
	}
	if q.Limit != 50 {
		t.Fatalf("expected upgraded limit after roll, got %d", q.Limit)
	}
	if q.Used != 0 {
		t.Fatalf("expected used zeroed after roll, got %d", q.Used)
	}
}

func TestForceResetAdvancesWindow(t *testing.T) {
	st := NewMemoryStore(StaticDefaults(5, time.UTC))
	svc := NewService(st)

	now := time.Now().UTC()
	st.Seed(Quota{UserID: "user-1", Limit: 5, Used: 4, ResetsAt: now.Add(time.Hour)})

	q, err := svc.Reset(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if q.Used != 0 {
		t.Fatalf("expected used 0 after force reset, got %d", q.Used)
	}
	if !q.ResetsAt.After(now) {
		t.Fatalf("expected boundary in the future, got %v", q.ResetsAt)
	}
}

func TestNextResetIsNextLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	// 23:30 local on Jan 1 rolls at local midnight Jan 2, which is 22:00 UTC Jan 1.
	now := time.Date(2025, 1, 1, 21, 30, 0, 0, time.UTC)
	want := time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC)
	if got := NextReset(now, loc); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// Exactly at local midnight the boundary is strictly in the future.
	atMidnight := time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC)
	want2 := time.Date(2025, 1, 2, 22, 0, 0, 0, time.UTC)
	if got := NextReset(atMidnight, loc); !got.Equal(want2) {
		t.Fatalf("expected %v, got %v", want2, got)
	}
}
