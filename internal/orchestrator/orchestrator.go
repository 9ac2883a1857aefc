package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/queue"
	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/metrics"
	"applypilot-backend/internal/shared/telemetry"
)

// CredentialSource reports whether a user has usable automation credentials
// without importing the credentials package.
type CredentialSource interface {
	HasValid(ctx context.Context, userID string) (bool, error)
}

// WorkerStopper force-cancels a locally running worker. Remote workers stop
// through the ack channel instead, so the stopper is optional.
type WorkerStopper interface {
	Stop(sessionID string)
}

// runState is per-session bookkeeping for the current cycle: unit ids that
// already counted, and the task counter the cycle started from. Workers
// report per-run counts; records carry session-cumulative ones.
type runState struct {
	seenUnits map[string]struct{}
	baseTasks int
}

// Orchestrator drives every session transition. All mutation for one user is
// serialized on a per-user lock; operations for different users never block
// each other.
type Orchestrator struct {
	registry *session.Registry
	quota    *quota.Service
	creds    CredentialSource
	activity *activity.Service
	clock    clockwork.Clock
	locks    *userLocks

	mu       sync.Mutex
	dispatch queue.Dispatcher
	stopper  WorkerStopper
	runs     map[string]*runState
}

// New constructs the orchestrator. The dispatcher is bound afterwards via
// SetDispatcher because in-process workers need the orchestrator first.
func New(registry *session.Registry, quotaSvc *quota.Service, creds CredentialSource, activitySvc *activity.Service, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		registry: registry,
		quota:    quotaSvc,
		creds:    creds,
		activity: activitySvc,
		clock:    clock,
		locks:    newUserLocks(),
		runs:     make(map[string]*runState),
	}
}

// SetDispatcher binds the worker handoff channel and the optional local
// stopper.
func (o *Orchestrator) SetDispatcher(d queue.Dispatcher, stopper WorkerStopper) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatch = d
	o.stopper = stopper
}

func (o *Orchestrator) now() time.Time {
	return o.clock.Now().UTC()
}

// Start begins a new automation session for the user. Guards run in order:
// credentials, then quota, then the single-session slot; the first failing
// guard names the rejection so the client knows which action fixes it.
func (o *Orchestrator) Start(ctx context.Context, userID string) (session.Record, error) {
	if userID == "" {
		return session.Record{}, fmt.Errorf("user id required")
	}
	unlock := o.locks.lock(userID)
	defer unlock()

	hasCreds, err := o.creds.HasValid(ctx, userID)
	if err != nil {
		return session.Record{}, fmt.Errorf("credential check: %w", err)
	}
	if !hasCreds {
		return session.Record{}, ErrCredentialsMissing
	}

	allowed, q, err := o.quota.CheckAndReserve(ctx, userID)
	if err != nil {
		return session.Record{}, fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		return session.Record{}, ErrQuotaExceeded
	}

	if _, live := o.registry.Active(userID); live {
		return session.Record{}, ErrAlreadyRunning
	}

	prev, hadPrev := o.registry.Current(userID)

	now := o.now()
	rec := session.Record{
		ID:              uuid.NewString(),
		UserID:          userID,
		Status:          session.StatusStarting,
		CurrentTask:     "Starting automation session",
		StartedAt:       now,
		LastHeartbeatAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.registry.PutActive(ctx, rec); err != nil {
		if errors.Is(err, session.ErrConflict) {
			// Two starts raced past the guard. Reject cleanly, log loudly.
			telemetry.Error("session slot conflict past start guard", map[string]any{
				"user_id": userID,
			})
			return session.Record{}, ErrAlreadyRunning
		}
		return session.Record{}, err
	}
	if hadPrev {
		o.dropRunState(prev.ID)
	}
	o.resetRunState(rec.ID, 0)

	o.logEvent(ctx, rec.ID, "Session created",
		fmt.Sprintf("Automation session accepted; %d applications remaining today", q.Remaining()),
		activity.LevelInfo, nil)

	rec, err = o.handOff(ctx, rec, q.Remaining())
	if err != nil {
		return rec, err
	}

	metrics.IncSessionStarted()
	metrics.SetActiveSessions(o.registry.LiveCount())
	return rec, nil
}

// Stop ends the user's session. Idempotent: stopping an already stopped
// session is a no-op. The record transitions locally first, so stop works
// even when the worker is unresponsive; the worker learns from its next ack
// or a local cancel.
func (o *Orchestrator) Stop(ctx context.Context, userID string) (session.Record, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	rec, ok := o.registry.Current(userID)
	if !ok {
		return session.Record{}, ErrNotFound
	}
	if rec.Status == session.StatusStopped {
		return rec, nil
	}

	now := o.now()
	wasLive := rec.Live()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusStopped
		r.StopReason = session.StopReasonUser
		r.CurrentTask = ""
		if r.StoppedAt == nil {
			t := now
			r.StoppedAt = &t
		}
	})
	if err != nil {
		return session.Record{}, err
	}

	o.logEvent(ctx, rec.ID, "Stopped by user", "Automation session stopped", activity.LevelInfo, nil)
	o.signalStop(rec.ID)
	if wasLive {
		metrics.IncSessionStopped(session.StopReasonUser)
		metrics.ObserveSessionDuration(float64(updated.DurationSeconds(now)))
		metrics.SetActiveSessions(o.registry.LiveCount())
	}
	return updated, nil
}

// Pause suspends a running session. The worker idles on its next ack.
func (o *Orchestrator) Pause(ctx context.Context, userID string) (session.Record, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	rec, ok := o.registry.Current(userID)
	if !ok {
		return session.Record{}, ErrNotFound
	}
	if rec.Status == session.StatusPaused {
		return rec, nil
	}
	if rec.Status != session.StatusRunning {
		return session.Record{}, ErrInvalidTransition
	}

	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusPaused
	})
	if err != nil {
		return session.Record{}, err
	}
	o.logEvent(ctx, rec.ID, "Session paused", "Paused by user", activity.LevelInfo, nil)
	return updated, nil
}

// Resume continues a paused session.
func (o *Orchestrator) Resume(ctx context.Context, userID string) (session.Record, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	rec, ok := o.registry.Current(userID)
	if !ok {
		return session.Record{}, ErrNotFound
	}
	if rec.Status == session.StatusRunning {
		return rec, nil
	}
	if rec.Status != session.StatusPaused {
		return session.Record{}, ErrInvalidTransition
	}

	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusRunning
		r.LastHeartbeatAt = now
	})
	if err != nil {
		return session.Record{}, err
	}
	o.logEvent(ctx, rec.ID, "Session resumed", "Resumed by user", activity.LevelInfo, nil)
	return updated, nil
}

// Restart re-arms a quota-parked session after the window reset. The same
// record continues: restartCount increments, progress zeroes, cumulative
// counters keep growing. Guard rejections park the session in Stopped with
// reason restart_rejected instead of looping.
func (o *Orchestrator) Restart(ctx context.Context, userID string) (session.Record, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	rec, ok := o.registry.Current(userID)
	if !ok {
		return session.Record{}, ErrNotFound
	}
	if rec.Status != session.StatusQuotaExceeded || rec.StopReason != session.StopReasonQuota {
		return session.Record{}, ErrInvalidTransition
	}

	var reject error
	remaining := 0
	hasCreds, err := o.creds.HasValid(ctx, userID)
	if err != nil {
		return session.Record{}, fmt.Errorf("credential check: %w", err)
	}
	if !hasCreds {
		reject = ErrCredentialsMissing
	} else {
		allowed, q, qerr := o.quota.CheckAndReserve(ctx, userID)
		if qerr != nil {
			return session.Record{}, fmt.Errorf("quota check: %w", qerr)
		}
		if !allowed {
			reject = ErrQuotaExceeded
		} else {
			remaining = q.Remaining()
		}
	}

	now := o.now()
	if reject != nil {
		updated, uerr := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
			r.Status = session.StatusStopped
			r.StopReason = session.StopReasonRestartRejected
			r.CurrentTask = ""
			if r.StoppedAt == nil {
				t := now
				r.StoppedAt = &t
			}
		})
		if uerr != nil {
			return session.Record{}, uerr
		}
		o.logEvent(ctx, rec.ID, "Auto-restart rejected",
			fmt.Sprintf("Could not restart after quota reset: %v", reject),
			activity.LevelWarning, nil)
		return updated, reject
	}

	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusStarting
		r.StopReason = session.StopReasonNone
		r.ErrorCode = ""
		r.Progress = 0
		r.CurrentTask = "Restarting after quota reset"
		r.RestartCount++
		r.StartedAt = now
		r.LastHeartbeatAt = now
		r.StoppedAt = nil
	})
	if err != nil {
		return session.Record{}, err
	}
	o.rearmRunState(rec.ID, updated.TasksCompleted)

	o.logEvent(ctx, rec.ID, "Session restarting",
		fmt.Sprintf("Daily quota reset; automatic restart %d", updated.RestartCount),
		activity.LevelInfo, nil)

	updated, err = o.handOff(ctx, updated, remaining)
	if err != nil {
		return updated, err
	}

	metrics.IncAutoRestart()
	metrics.IncSessionStarted()
	metrics.SetActiveSessions(o.registry.LiveCount())
	return updated, nil
}

// MarkUnresponsive fails a session whose worker has been silent past the
// timeout. Starting counts too: a worker that never acknowledged is as gone
// as one that stopped heartbeating. The staleness check repeats under the
// user lock so a racing heartbeat or stop wins.
func (o *Orchestrator) MarkUnresponsive(ctx context.Context, sessionID string, timeout time.Duration) error {
	rec, ok := o.registry.BySession(sessionID)
	if !ok {
		return ErrNotFound
	}

	unlock := o.locks.lock(rec.UserID)
	defer unlock()

	rec, ok = o.registry.BySession(sessionID)
	if !ok || (rec.Status != session.StatusRunning && rec.Status != session.StatusStarting) {
		return nil
	}
	now := o.now()
	if rec.LastHeartbeatAt.IsZero() || now.Sub(rec.LastHeartbeatAt) < timeout {
		return nil
	}

	silentFor := now.Sub(rec.LastHeartbeatAt).Truncate(time.Second)
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusError
		r.ErrorCode = session.ErrorCodeWorkerUnresponsive
		r.StopReason = session.StopReasonHeartbeat
		r.CurrentTask = ""
		t := now
		r.StoppedAt = &t
	})
	if err != nil {
		return err
	}

	o.logEvent(ctx, rec.ID, "Worker unresponsive",
		fmt.Sprintf("No heartbeat for %s; session marked failed", silentFor),
		activity.LevelError, nil)
	o.signalStop(rec.ID)
	metrics.IncHeartbeatTimeout()
	metrics.IncSessionStopped(session.StopReasonHeartbeat)
	metrics.ObserveSessionDuration(float64(updated.DurationSeconds(now)))
	metrics.SetActiveSessions(o.registry.LiveCount())
	return nil
}

// ForceClear resets a wedged session to stopped outside the normal state
// machine guards. Operator diagnostics only.
func (o *Orchestrator) ForceClear(ctx context.Context, userID string) (session.Record, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	rec, ok := o.registry.Current(userID)
	if !ok {
		return session.Record{}, ErrNotFound
	}

	wasLive := rec.Live()
	now := o.now()
	updated, err := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusStopped
		r.StopReason = session.StopReasonAdmin
		r.ErrorCode = ""
		r.CurrentTask = ""
		if r.StoppedAt == nil {
			t := now
			r.StoppedAt = &t
		}
	})
	if err != nil {
		return session.Record{}, err
	}

	o.logEvent(ctx, rec.ID, "Session force-cleared", "Operator reset the session state", activity.LevelWarning, nil)
	o.dropRunState(rec.ID)
	o.signalStop(rec.ID)
	if wasLive {
		metrics.IncSessionStopped(session.StopReasonAdmin)
		metrics.SetActiveSessions(o.registry.LiveCount())
	}
	return updated, nil
}

// handOff dispatches the worker invocation for an accepted start or restart.
// Failure rolls the session to error; starting a session whose worker never
// launched would strand it in starting until the heartbeat sweep.
func (o *Orchestrator) handOff(ctx context.Context, rec session.Record, remaining int) (session.Record, error) {
	o.mu.Lock()
	dispatch := o.dispatch
	o.mu.Unlock()

	var dispatchErr error
	if dispatch == nil {
		dispatchErr = fmt.Errorf("no worker dispatcher bound")
	} else {
		h := queue.Handoff{
			UserID:     rec.UserID,
			SessionID:  rec.ID,
			Remaining:  remaining,
			RequestID:  uuid.NewString(),
			EnqueuedAt: o.now().Format(time.RFC3339),
			Version:    1,
		}
		dispatchErr = dispatch.Dispatch(ctx, h)
	}
	if dispatchErr == nil {
		return rec, nil
	}

	metrics.IncHandoffDispatchFailure()
	now := o.now()
	failed, uerr := o.registry.Update(ctx, rec.ID, func(r *session.Record) {
		r.Status = session.StatusError
		r.ErrorCode = session.ErrorCodeWorkerFailure
		r.StopReason = session.StopReasonWorkerFailure
		r.CurrentTask = ""
		t := now
		r.StoppedAt = &t
	})
	if uerr != nil {
		telemetry.Error("session handoff rollback failed", map[string]any{
			"session_id": rec.ID,
			"error":      uerr.Error(),
		})
		failed = rec
	}
	o.logEvent(ctx, rec.ID, "Worker handoff failed", dispatchErr.Error(), activity.LevelError, nil)
	metrics.SetActiveSessions(o.registry.LiveCount())
	return failed, fmt.Errorf("%w: %v", ErrWorkerFailure, dispatchErr)
}

func (o *Orchestrator) signalStop(sessionID string) {
	o.mu.Lock()
	stopper := o.stopper
	o.mu.Unlock()
	if stopper != nil {
		stopper.Stop(sessionID)
	}
}

// logEvent appends an activity entry; failures degrade to a warning because
// transitions must not depend on the feed.
func (o *Orchestrator) logEvent(ctx context.Context, sessionID, action, details, level string, md map[string]string) {
	if _, err := o.activity.Append(ctx, sessionID, action, details, level, md); err != nil {
		telemetry.Warn("activity append failed", map[string]any{
			"session_id": sessionID,
			"action":     action,
			"error":      err.Error(),
		})
	}
}

func (o *Orchestrator) resetRunState(sessionID string, baseTasks int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[sessionID] = &runState{seenUnits: make(map[string]struct{}), baseTasks: baseTasks}
}

// rearmRunState refreshes the task baseline but keeps seen unit ids, so late
// redeliveries from the previous cycle stay deduplicated.
func (o *Orchestrator) rearmRunState(sessionID string, baseTasks int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, ok := o.runs[sessionID]
	if !ok {
		rs = &runState{seenUnits: make(map[string]struct{})}
		o.runs[sessionID] = rs
	}
	rs.baseTasks = baseTasks
}

func (o *Orchestrator) runStateFor(sessionID string) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, ok := o.runs[sessionID]
	if !ok {
		rs = &runState{seenUnits: make(map[string]struct{})}
		o.runs[sessionID] = rs
	}
	return rs
}

func (o *Orchestrator) dropRunState(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, sessionID)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func levelOr(level, fallback string) string {
	if level == "" {
		return fallback
	}
	return level
}
