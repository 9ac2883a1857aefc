package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"applypilot-backend/internal/queue"
)

// blockingEngine parks in Plan until released or canceled.
type blockingEngine struct {
	release chan struct{}
	calls   int32
}

func (e *blockingEngine) Plan(ctx context.Context, h queue.Handoff) ([]Step, error) {
	_ = h
	atomic.AddInt32(&e.calls, 1)
	select {
	case <-e.release:
		return []Step{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDispatchIgnoresDuplicateHandoff(t *testing.T) {
	engine := &blockingEngine{release: make(chan struct{})}
	d := NewInProcessDispatcher(engine, nil, 0)
	reporter := &scriptedReporter{}
	d.Bind(reporter)

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 3}
	if err := d.Dispatch(context.Background(), h); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), h); err != nil {
		t.Fatalf("duplicate dispatch: %v", err)
	}

	close(engine.release)
	d.Shutdown()

	if got := atomic.LoadInt32(&engine.calls); got != 1 {
		t.Fatalf("expected a single run for duplicate handoffs, got %d", got)
	}
	if got := len(reporter.byType(EventStarted)); got != 1 {
		t.Fatalf("expected 1 started event, got %d", got)
	}
}

func TestDispatchRequiresBoundReporter(t *testing.T) {
	d := NewInProcessDispatcher(SimEngine{}, nil, 0)

	err := d.Dispatch(context.Background(), queue.Handoff{UserID: "u", SessionID: "s", Remaining: 1})
	if err == nil {
		t.Fatalf("expected error when no reporter bound")
	}
}

func TestStopCancelsInFlightRun(t *testing.T) {
	engine := &blockingEngine{release: make(chan struct{})}
	d := NewInProcessDispatcher(engine, nil, 0)
	reporter := &scriptedReporter{}
	d.Bind(reporter)

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 3}
	if err := d.Dispatch(context.Background(), h); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	d.Stop("s-1")
	d.Shutdown()

	if got := len(reporter.byType(EventFailure)); got != 0 {
		t.Fatalf("expected canceled run to report no failure, got %d", got)
	}
}
