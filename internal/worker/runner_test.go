package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"applypilot-backend/internal/queue"
)

// scriptedReporter records events and answers with configured acks.
type scriptedReporter struct {
	mu     sync.Mutex
	events []Event
	acks   map[string]string // event type -> action
}

func (r *scriptedReporter) Report(ctx context.Context, e Event) (Ack, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if action, ok := r.acks[e.Type]; ok {
		return Ack{Action: action}, nil
	}
	return Ack{Action: ActionContinue}, nil
}

func (r *scriptedReporter) byType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestRunnerCompletesPlan(t *testing.T) {
	reporter := &scriptedReporter{}
	runner := &Runner{
		Reporter: reporter,
		Engine:   SimEngine{Units: 2},
	}

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 5}
	if err := runner.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(reporter.byType(EventStarted)); got != 1 {
		t.Fatalf("expected 1 started event, got %d", got)
	}
	units := reporter.byType(EventUnitOfWork)
	if len(units) != 2 {
		t.Fatalf("expected 2 unit events, got %d", len(units))
	}
	if units[0].UnitID != "s-1-unit-1" || units[1].UnitID != "s-1-unit-2" {
		t.Fatalf("expected deterministic unit ids, got %q %q", units[0].UnitID, units[1].UnitID)
	}
	if got := len(reporter.byType(EventStopped)); got != 1 {
		t.Fatalf("expected 1 stopped event, got %d", got)
	}

	last := reporter.events[len(reporter.events)-1]
	if last.Type != EventStopped {
		t.Fatalf("expected run to end with stopped, got %s", last.Type)
	}
}

func TestRunnerObeysStopAck(t *testing.T) {
	reporter := &scriptedReporter{acks: map[string]string{EventUnitOfWork: ActionStop}}
	runner := &Runner{
		Reporter: reporter,
		Engine:   SimEngine{Units: 3},
	}

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 10}
	if err := runner.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(reporter.byType(EventUnitOfWork)); got != 1 {
		t.Fatalf("expected run to stop after first unit, got %d units", got)
	}
	if got := len(reporter.byType(EventStopped)); got != 1 {
		t.Fatalf("expected stopped event after stop ack, got %d", got)
	}
}

func TestRunnerCapsUnitsAtRemainingQuota(t *testing.T) {
	reporter := &scriptedReporter{}
	runner := &Runner{
		Reporter: reporter,
		Engine:   SimEngine{Units: 5},
	}

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 2}
	if err := runner.Run(context.Background(), h); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(reporter.byType(EventUnitOfWork)); got != 2 {
		t.Fatalf("expected units capped at remaining quota 2, got %d", got)
	}
}

func TestRunnerReportsFailureWhenPlanFails(t *testing.T) {
	reporter := &scriptedReporter{}
	runner := &Runner{
		Reporter: reporter,
		Engine:   PlaceholderEngine{},
	}

	h := queue.Handoff{UserID: "user-1", SessionID: "s-1", Remaining: 3}
	err := runner.Run(context.Background(), h)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}

	failures := reporter.byType(EventFailure)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(failures))
	}
	if failures[0].Detail == "" {
		t.Fatalf("expected failure detail to carry the cause")
	}
	if got := len(reporter.byType(EventStarted)); got != 0 {
		t.Fatalf("expected no started event for failed plan, got %d", got)
	}
}

func TestSimEnginePlanIsDeterministic(t *testing.T) {
	engine := SimEngine{Units: 3}
	h := queue.Handoff{UserID: "user-1", SessionID: "s-9", Remaining: 3}

	a, err := engine.Plan(context.Background(), h)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	b, err := engine.Plan(context.Background(), h)
	if err != nil {
		t.Fatalf("plan again: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("plan lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Event.UnitID != b[i].Event.UnitID || a[i].Event.Detail != b[i].Event.Detail {
			t.Fatalf("plans diverge at step %d", i)
		}
	}
}
