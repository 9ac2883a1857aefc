package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/metrics"
	"applypilot-backend/internal/worker"
)

// Report implements the worker reporter contract for in-process workers.
func (o *Orchestrator) Report(ctx context.Context, e worker.Event) (worker.Ack, error) {
	return o.HandleEvent(ctx, e)
}

// HandleEvent applies one worker report and answers with the action the
// worker should take next. Duplicate deliveries are tolerated: unit ids
// dedupe, progress is absolute, and events for sessions that are no longer
// current just get a stop ack.
func (o *Orchestrator) HandleEvent(ctx context.Context, e worker.Event) (worker.Ack, error) {
	if e.SessionID == "" {
		return worker.Ack{Action: worker.ActionStop}, ErrNotFound
	}
	rec, ok := o.registry.BySession(e.SessionID)
	if !ok {
		return worker.Ack{Action: worker.ActionStop}, ErrNotFound
	}

	unlock := o.locks.lock(rec.UserID)
	defer unlock()

	rec, ok = o.registry.BySession(e.SessionID)
	if !ok {
		return worker.Ack{Action: worker.ActionStop}, ErrNotFound
	}

	switch e.Type {
	case worker.EventStarted:
		return o.onStarted(ctx, rec, e)
	case worker.EventHeartbeat:
		return o.onHeartbeat(ctx, rec)
	case worker.EventProgress:
		return o.onProgress(ctx, rec, e)
	case worker.EventUnitOfWork:
		return o.onUnitOfWork(ctx, rec, e)
	case worker.EventFailure:
		return o.onFailure(ctx, rec, e)
	case worker.EventStopped:
		return o.onStopped(ctx, rec, e)
	default:
		return o.ackFor(rec.Status), fmt.Errorf("unknown event type %q", e.Type)
	}
}

// ackFor derives the worker instruction from the session status after the
// event was applied.
func (o *Orchestrator) ackFor(status string) worker.Ack {
	switch status {
	case session.StatusRunning, session.StatusStarting:
		return worker.Ack{Action: worker.ActionContinue}
	case session.StatusPaused:
		return worker.Ack{Action: worker.ActionPause}
	default:
		return worker.Ack{Action: worker.ActionStop}
	}
}

// onStarted moves starting to running once the worker acknowledges the
// handoff. A duplicate started event for an already running session only
// refreshes the heartbeat.
func (o *Orchestrator) onStarted(ctx context.Context, rec session.Record, e worker.Event) (worker.Ack, error) {
	if !rec.Live() {
		return worker.Ack{Action: worker.ActionStop}, nil
	}
	wasStarting := rec.Status == session.StatusStarting
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		if r.Status == session.StatusStarting {
			r.Status = session.StatusRunning
		}
		r.LastHeartbeatAt = now
		if e.CurrentTask != "" {
			r.CurrentTask = e.CurrentTask
		}
	})
	if err != nil {
		return worker.Ack{}, err
	}
	if wasStarting {
		o.logEvent(ctx, rec.ID, "Session running", "Worker acknowledged the handoff", activity.LevelSuccess, nil)
	}
	return o.ackFor(updated.Status), nil
}

func (o *Orchestrator) onHeartbeat(ctx context.Context, rec session.Record) (worker.Ack, error) {
	if !rec.Live() {
		return worker.Ack{Action: worker.ActionStop}, nil
	}
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.LastHeartbeatAt = now
	})
	if err != nil {
		return worker.Ack{}, err
	}
	return o.ackFor(updated.Status), nil
}

// onProgress updates the visible progress fields and appends a feed entry.
// It never changes status.
func (o *Orchestrator) onProgress(ctx context.Context, rec session.Record, e worker.Event) (worker.Ack, error) {
	if !rec.Live() {
		return worker.Ack{Action: worker.ActionStop}, nil
	}
	rs := o.runStateFor(rec.ID)
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.LastHeartbeatAt = now
		r.Progress = clampPercent(e.Percent)
		if e.CurrentTask != "" {
			r.CurrentTask = e.CurrentTask
		}
		if c := rs.baseTasks + e.TasksCompleted; c > r.TasksCompleted {
			r.TasksCompleted = c
		}
	})
	if err != nil {
		return worker.Ack{}, err
	}

	action := e.CurrentTask
	if action == "" {
		action = "Progress update"
	}
	detail := e.Detail
	if detail == "" {
		detail = fmt.Sprintf("Progress %d%%", updated.Progress)
	}
	o.logEvent(ctx, rec.ID, action, detail, levelOr(e.Level, activity.LevelInfo), e.Metadata)
	return o.ackFor(updated.Status), nil
}

// onUnitOfWork is the only place quota gets charged. The commit lands before
// the counters move, so a crash between the two undercounts the session but
// never the quota. Units reported outside running are acked away uncounted.
func (o *Orchestrator) onUnitOfWork(ctx context.Context, rec session.Record, e worker.Event) (worker.Ack, error) {
	if rec.Status != session.StatusRunning {
		return o.ackFor(rec.Status), nil
	}
	rs := o.runStateFor(rec.ID)
	if e.UnitID != "" {
		if _, seen := rs.seenUnits[e.UnitID]; seen {
			return o.ackFor(rec.Status), nil
		}
	}

	q, err := o.quota.Commit(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			// A unit landed after the window filled. Park without counting.
			parked, perr := o.parkQuotaExceeded(ctx, rec, quota.Quota{})
			if perr != nil {
				return worker.Ack{}, perr
			}
			return o.ackFor(parked.Status), nil
		}
		return worker.Ack{}, err
	}
	if e.UnitID != "" {
		rs.seenUnits[e.UnitID] = struct{}{}
	}

	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Submitted++
		if c := rs.baseTasks + e.TasksCompleted; c > r.TasksCompleted {
			r.TasksCompleted = c
		}
		r.Progress = clampPercent(e.Percent)
		if e.CurrentTask != "" {
			r.CurrentTask = e.CurrentTask
		}
		r.LastHeartbeatAt = now
	})
	if err != nil {
		return worker.Ack{}, err
	}
	metrics.IncApplicationSubmitted()

	detail := e.Detail
	if detail == "" {
		detail = fmt.Sprintf("Application %d submitted", updated.Submitted)
	}
	o.logEvent(ctx, rec.ID, "Application submitted", detail, activity.LevelSuccess, e.Metadata)

	if q.Exhausted() {
		parked, perr := o.parkQuotaExceeded(ctx, updated, q)
		if perr != nil {
			return worker.Ack{}, perr
		}
		return o.ackFor(parked.Status), nil
	}
	return o.ackFor(updated.Status), nil
}

// onFailure marks the session failed. Failed sessions are never retried
// automatically; the user restarts explicitly.
func (o *Orchestrator) onFailure(ctx context.Context, rec session.Record, e worker.Event) (worker.Ack, error) {
	if !rec.Live() {
		return worker.Ack{Action: worker.ActionStop}, nil
	}
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusError
		r.ErrorCode = session.ErrorCodeWorkerFailure
		r.StopReason = session.StopReasonWorkerFailure
		r.CurrentTask = ""
		t := now
		r.StoppedAt = &t
	})
	if err != nil {
		return worker.Ack{}, err
	}

	detail := e.Detail
	if detail == "" {
		detail = "Worker reported a failure"
	}
	o.logEvent(ctx, rec.ID, "Automation failed", detail, activity.LevelError, e.Metadata)
	metrics.IncSessionStopped(session.StopReasonWorkerFailure)
	metrics.ObserveSessionDuration(float64(updated.DurationSeconds(now)))
	metrics.SetActiveSessions(o.registry.LiveCount())
	return worker.Ack{Action: worker.ActionStop}, nil
}

// onStopped records a worker-side finish. Sessions the orchestrator already
// parked (quota, error, user stop) keep their reason.
func (o *Orchestrator) onStopped(ctx context.Context, rec session.Record, e worker.Event) (worker.Ack, error) {
	if !rec.Live() {
		return worker.Ack{Action: worker.ActionStop}, nil
	}
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusStopped
		if r.StopReason == session.StopReasonNone {
			r.StopReason = session.StopReasonCompleted
		}
		r.CurrentTask = ""
		if r.StoppedAt == nil {
			t := now
			r.StoppedAt = &t
		}
	})
	if err != nil {
		return worker.Ack{}, err
	}

	detail := e.Detail
	if detail == "" {
		detail = "Worker finished"
	}
	o.logEvent(ctx, rec.ID, "Session stopped", detail, activity.LevelInfo, nil)
	metrics.IncSessionStopped(updated.StopReason)
	metrics.ObserveSessionDuration(float64(updated.DurationSeconds(now)))
	metrics.SetActiveSessions(o.registry.LiveCount())
	return worker.Ack{Action: worker.ActionStop}, nil
}

// parkQuotaExceeded moves a session to the quota-parked state the restart
// scheduler sweeps. A zero quota value produces the generic message.
func (o *Orchestrator) parkQuotaExceeded(ctx context.Context, rec session.Record, q quota.Quota) (session.Record, error) {
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusQuotaExceeded
		r.StopReason = session.StopReasonQuota
		r.CurrentTask = ""
		t := now
		r.StoppedAt = &t
	})
	if err != nil {
		return session.Record{}, err
	}

	detail := "Daily application quota reached"
	if q.Limit > 0 {
		detail = fmt.Sprintf("Daily application quota reached (%d/%d); automation resumes after %s",
			q.Used, q.Limit, q.ResetsAt.UTC().Format("15:04 MST"))
	}
	o.logEvent(ctx, rec.ID, "Daily limit reached", detail, activity.LevelWarning, nil)
	metrics.IncQuotaExhaustion()
	metrics.IncSessionStopped(session.StopReasonQuota)
	metrics.ObserveSessionDuration(float64(updated.DurationSeconds(now)))
	metrics.SetActiveSessions(o.registry.LiveCount())
	return updated, nil
}
