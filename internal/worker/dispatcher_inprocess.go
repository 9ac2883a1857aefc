package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/queue"
	"applypilot-backend/internal/shared/telemetry"
)

// InProcessDispatcher runs one worker goroutine per handoff inside the API
// process. Dev mode and tests; production deployments dispatch to SQS and
// run cmd/worker instead.
type InProcessDispatcher struct {
	engine         Engine
	clock          clockwork.Clock
	heartbeatEvery time.Duration

	mu       sync.Mutex
	reporter Reporter
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewInProcessDispatcher(engine Engine, clock clockwork.Clock, heartbeatEvery time.Duration) *InProcessDispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InProcessDispatcher{
		engine:         engine,
		clock:          clock,
		heartbeatEvery: heartbeatEvery,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Bind installs the reporter. The orchestrator is constructed after the
// dispatcher, so wiring happens in two phases.
func (d *InProcessDispatcher) Bind(r Reporter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporter = r
}

// Dispatch launches a run for the handoff. Redelivered handoffs for a
// session already running are acknowledged without starting a second run.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, h queue.Handoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	reporter := d.reporter
	if reporter == nil {
		d.mu.Unlock()
		return fmt.Errorf("worker dispatcher: no reporter bound")
	}
	if _, running := d.cancels[h.SessionID]; running {
		d.mu.Unlock()
		return nil
	}

	// The run outlives the HTTP request that triggered it.
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancels[h.SessionID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.cancels, h.SessionID)
			d.mu.Unlock()
		}()

		runner := &Runner{
			Reporter:       reporter,
			Engine:         d.engine,
			Clock:          d.clock,
			HeartbeatEvery: d.heartbeatEvery,
		}
		if err := runner.Run(runCtx, h); err != nil {
			telemetry.Warn("worker run ended with error", map[string]any{
				"session_id": h.SessionID,
				"user_id":    h.UserID,
				"error":      err.Error(),
			})
		}
	}()
	return nil
}

// Stop cancels an in-flight run. Used when the orchestrator force-stops a
// session whose worker stopped acknowledging acks.
func (d *InProcessDispatcher) Stop(sessionID string) {
	d.mu.Lock()
	cancel, ok := d.cancels[sessionID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every run and waits for goroutines to drain.
func (d *InProcessDispatcher) Shutdown() {
	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

var _ queue.Dispatcher = (*InProcessDispatcher)(nil)
