package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/worker"
)

func (f *fixture) monitor(t *testing.T, timeout time.Duration) *Monitor {
	t.Helper()
	return NewMonitor(f.orch, f.reg, f.clock, timeout, time.Second)
}

func (f *fixture) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	return NewScheduler(f.orch, f.reg, f.quota, f.clock, time.Second)
}

// parkOnQuota drives a session to the quota-exceeded state by submitting
// applications until the daily limit fills.
func (f *fixture) parkOnQuota(t *testing.T, userID string, limit int) session.Record {
	t.Helper()
	rec := f.mustStart(t, userID)
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: rec.ID})
	for i := 0; i < limit; i++ {
		f.report(t, worker.Event{
			Type:           worker.EventUnitOfWork,
			SessionID:      rec.ID,
			UnitID:         fmt.Sprintf("cycle1-unit-%d", i),
			TasksCompleted: i + 1,
		})
	}
	got := f.current(t, userID)
	require.Equal(t, session.StatusQuotaExceeded, got.Status)
	return got
}

func TestMonitor_FlagsSilentWorker(t *testing.T) {
	f := newFixture(t, 10)
	mon := f.monitor(t, 90*time.Second)

	rec := f.mustStart(t, "user-1")
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: rec.ID})

	f.clock.Advance(2 * time.Minute)
	mon.Sweep(context.Background())

	got := f.current(t, "user-1")
	assert.Equal(t, session.StatusError, got.Status)
	assert.Equal(t, session.ErrorCodeWorkerUnresponsive, got.ErrorCode)
	assert.Equal(t, session.StopReasonHeartbeat, got.StopReason)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, f.stops.stopped(rec.ID))
	assert.Equal(t, 1, actionCount(f.feed(t, rec.ID), "Worker unresponsive"))
}

func TestMonitor_SparesWorkersThatHeartbeat(t *testing.T) {
	f := newFixture(t, 10)
	mon := f.monitor(t, 90*time.Second)
	ctx := context.Background()

	rec := f.mustStart(t, "user-1")
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: rec.ID})

	// Total elapsed time exceeds the timeout, but each heartbeat resets the
	// window.
	for i := 0; i < 4; i++ {
		f.clock.Advance(60 * time.Second)
		f.report(t, worker.Event{Type: worker.EventHeartbeat, SessionID: rec.ID})
		mon.Sweep(ctx)
	}

	assert.Equal(t, session.StatusRunning, f.current(t, "user-1").Status)
}

func TestMonitor_FlagsWorkerThatNeverAcknowledged(t *testing.T) {
	f := newFixture(t, 10)
	mon := f.monitor(t, 90*time.Second)

	rec := f.mustStart(t, "user-1")
	require.Equal(t, session.StatusStarting, rec.Status)

	f.clock.Advance(3 * time.Minute)
	mon.Sweep(context.Background())

	got := f.current(t, "user-1")
	assert.Equal(t, session.StatusError, got.Status)
	assert.Equal(t, session.ErrorCodeWorkerUnresponsive, got.ErrorCode)
}

func TestMonitor_IgnoresPausedSessions(t *testing.T) {
	f := newFixture(t, 10)
	mon := f.monitor(t, 90*time.Second)
	ctx := context.Background()

	rec := f.mustStart(t, "user-1")
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: rec.ID})
	_, err := f.orch.Pause(ctx, "user-1")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	mon.Sweep(ctx)

	assert.Equal(t, session.StatusPaused, f.current(t, "user-1").Status)
}

func TestScheduler_RestartsParkedSessionAfterReset(t *testing.T) {
	f := newFixture(t, 2)
	sched := f.scheduler(t)
	ctx := context.Background()

	parked := f.parkOnQuota(t, "user-1", 2)
	firstHandoff := f.disp.last()

	// Window not due yet: the sweep leaves the session parked.
	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(time.Hour)})
	sched.Sweep(ctx)
	assert.Equal(t, session.StatusQuotaExceeded, f.current(t, "user-1").Status)
	assert.Equal(t, 1, f.disp.count())

	// Boundary passed: the sweep resets the window and re-arms the same
	// record.
	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(-time.Minute)})
	sched.Sweep(ctx)

	got := f.current(t, "user-1")
	assert.Equal(t, parked.ID, got.ID)
	assert.Equal(t, session.StatusStarting, got.Status)
	assert.Equal(t, 1, got.RestartCount)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, 2, got.Submitted)
	assert.Nil(t, got.StoppedAt)

	require.Equal(t, 2, f.disp.count())
	second := f.disp.last()
	assert.Equal(t, parked.ID, second.SessionID)
	assert.Equal(t, 2, second.Remaining)
	assert.NotEqual(t, firstHandoff.RequestID, second.RequestID)
	assert.Equal(t, 1, actionCount(f.feed(t, parked.ID), "Session restarting"))
}

func TestScheduler_SweepIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	sched := f.scheduler(t)
	ctx := context.Background()

	parked := f.parkOnQuota(t, "user-1", 2)
	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(-time.Minute)})

	sched.Sweep(ctx)
	sched.Sweep(ctx)
	sched.Sweep(ctx)

	got := f.current(t, "user-1")
	assert.Equal(t, 1, got.RestartCount)
	assert.Equal(t, 2, f.disp.count())
	assert.Equal(t, parked.ID, got.ID)
}

func TestScheduler_NeverRestartsUserStoppedSession(t *testing.T) {
	f := newFixture(t, 10)
	sched := f.scheduler(t)
	ctx := context.Background()

	rec := f.mustStart(t, "user-1")
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: rec.ID})
	_, err := f.orch.Stop(ctx, "user-1")
	require.NoError(t, err)

	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 10, Used: 10, ResetsAt: f.clock.Now().Add(-time.Minute)})
	sched.Sweep(ctx)

	got := f.current(t, "user-1")
	assert.Equal(t, session.StatusStopped, got.Status)
	assert.Equal(t, session.StopReasonUser, got.StopReason)
	assert.Equal(t, 1, f.disp.count())
}

func TestScheduler_RejectionParksSessionStopped(t *testing.T) {
	f := newFixture(t, 2)
	sched := f.scheduler(t)
	ctx := context.Background()

	parked := f.parkOnQuota(t, "user-1", 2)

	// Credentials were revoked while the session waited for the reset.
	f.creds.set(false)
	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(-time.Minute)})
	sched.Sweep(ctx)

	got := f.current(t, "user-1")
	assert.Equal(t, session.StatusStopped, got.Status)
	assert.Equal(t, session.StopReasonRestartRejected, got.StopReason)
	assert.Equal(t, 1, actionCount(f.feed(t, parked.ID), "Auto-restart rejected"))
	assert.Equal(t, 1, f.disp.count())

	// Later sweeps skip the rejected session instead of looping on it.
	sched.Sweep(ctx)
	assert.Equal(t, session.StatusStopped, f.current(t, "user-1").Status)
	assert.Equal(t, 1, f.disp.count())
}

func TestRestart_CountersStayCumulativeAcrossCycles(t *testing.T) {
	f := newFixture(t, 2)
	sched := f.scheduler(t)

	parked := f.parkOnQuota(t, "user-1", 2)
	base := f.current(t, "user-1")
	require.Equal(t, 2, base.Submitted)

	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(-time.Minute)})
	sched.Sweep(context.Background())

	// The restarted worker reports per-cycle counts starting from zero.
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: parked.ID})
	f.report(t, worker.Event{
		Type:           worker.EventUnitOfWork,
		SessionID:      parked.ID,
		UnitID:         "cycle2-unit-a",
		TasksCompleted: 1,
		Percent:        50,
	})

	got := f.current(t, "user-1")
	assert.Equal(t, 3, got.Submitted)
	assert.Equal(t, 3, got.TasksCompleted)
	assert.Equal(t, 1, got.RestartCount)
	assert.Equal(t, session.StatusRunning, got.Status)
}

func TestRestart_DuplicateUnitFromPreviousCycleStaysDeduped(t *testing.T) {
	f := newFixture(t, 2)
	sched := f.scheduler(t)

	parked := f.parkOnQuota(t, "user-1", 2)
	f.seed.Seed(quota.Quota{UserID: "user-1", Limit: 2, Used: 2, ResetsAt: f.clock.Now().Add(-time.Minute)})
	sched.Sweep(context.Background())
	f.report(t, worker.Event{Type: worker.EventStarted, SessionID: parked.ID})

	// A redelivery from the previous cycle must not consume the new window.
	f.report(t, worker.Event{Type: worker.EventUnitOfWork, SessionID: parked.ID, UnitID: "cycle1-unit-0"})

	got := f.current(t, "user-1")
	assert.Equal(t, 2, got.Submitted)
	q, err := f.quota.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, q.Used)
}
