package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/queue"
	"applypilot-backend/internal/shared/telemetry"
)

const (
	defaultHeartbeatEvery = 30 * time.Second
	pauseProbeEvery       = 2 * time.Second
	finalReportTimeout    = 5 * time.Second
)

// Runner drives one session run: it executes the engine's plan, reports
// events and obeys the acks that come back.
type Runner struct {
	Reporter       Reporter
	Engine         Engine
	Clock          clockwork.Clock
	HeartbeatEvery time.Duration
}

func (r *Runner) clock() clockwork.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return clockwork.NewRealClock()
}

// Run executes a handoff to completion, stop signal or failure.
func (r *Runner) Run(ctx context.Context, h queue.Handoff) error {
	clock := r.clock()
	heartbeatEvery := r.HeartbeatEvery
	if heartbeatEvery <= 0 {
		heartbeatEvery = defaultHeartbeatEvery
	}

	steps, err := r.Engine.Plan(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// No plan means no run; surface the cause so the session lands in error.
		if _, rerr := r.Reporter.Report(ctx, Event{
			Type:      EventFailure,
			SessionID: h.SessionID,
			Detail:    err.Error(),
			Level:     activity.LevelError,
		}); rerr != nil {
			return rerr
		}
		return err
	}

	ack, err := r.Reporter.Report(ctx, Event{
		Type:        EventStarted,
		SessionID:   h.SessionID,
		CurrentTask: "Preparing automation run",
		Level:       activity.LevelInfo,
	})
	if err != nil {
		return err
	}
	if ack.Action == ActionStop {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.heartbeatLoop(runCtx, clock, heartbeatEvery, h.SessionID, cancel)

	for _, step := range steps {
		if step.Delay > 0 {
			select {
			case <-runCtx.Done():
				return r.reportStopped(h.SessionID, "Run canceled")
			case <-clock.After(step.Delay):
			}
		}

		e := step.Event
		e.SessionID = h.SessionID
		ack, err := r.Reporter.Report(runCtx, e)
		if err != nil {
			return err
		}
		if ack.Action == ActionPause {
			ack, err = r.awaitResume(runCtx, clock, h.SessionID)
			if err != nil {
				return err
			}
		}
		if ack.Action == ActionStop {
			return r.reportStopped(h.SessionID, "Stopped on orchestrator signal")
		}
	}

	return r.reportStopped(h.SessionID, "Automation run complete")
}

// awaitResume idles through a pause, probing with heartbeats so the session
// stays observably alive, until the orchestrator says continue or stop.
func (r *Runner) awaitResume(ctx context.Context, clock clockwork.Clock, sessionID string) (Ack, error) {
	for {
		select {
		case <-ctx.Done():
			return Ack{Action: ActionStop}, nil
		case <-clock.After(pauseProbeEvery):
		}

		ack, err := r.Reporter.Report(ctx, Event{Type: EventHeartbeat, SessionID: sessionID})
		if err != nil {
			return Ack{}, err
		}
		if ack.Action != ActionPause {
			return ack, nil
		}
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context, clock clockwork.Clock, every time.Duration, sessionID string, cancel context.CancelFunc) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		ack, err := r.Reporter.Report(ctx, Event{Type: EventHeartbeat, SessionID: sessionID})
		if err != nil {
			telemetry.Warn("worker heartbeat report failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			continue
		}
		if ack.Action == ActionStop {
			cancel()
			return
		}
	}
}

// reportStopped delivers the final event on a detached context so a
// canceled run can still say goodbye.
func (r *Runner) reportStopped(sessionID, detail string) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalReportTimeout)
	defer cancel()

	if _, err := r.Reporter.Report(ctx, Event{
		Type:      EventStopped,
		SessionID: sessionID,
		Detail:    detail,
		Level:     activity.LevelInfo,
	}); err != nil {
		telemetry.Warn("worker stop report failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
	return nil
}
