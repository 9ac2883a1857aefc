package status

import (
	"time"

	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
)

// PersistentSession tells the client its session lives server-side and
// survives page refreshes; the dashboard re-attaches by polling, never by
// holding local state.
type PersistentSession struct {
	SurvivesRefresh bool   `json:"survivesRefresh"`
	SessionID       string `json:"sessionId"`
	DurationSeconds int64  `json:"durationSeconds"`
	RestartCount    int    `json:"restartCount"`
}

// QuotaStatus is the allowance block polled alongside the session snapshot.
// ResetsAt lets a quota-parked dashboard render a countdown to the restart.
type QuotaStatus struct {
	Plan       string    `json:"plan,omitempty"`
	DailyQuota int       `json:"dailyQuota"`
	DailyUsage int       `json:"dailyUsage"`
	ResetsAt   time.Time `json:"resetsAt"`
}

// Snapshot is the polled view of a user's automation state.
type Snapshot struct {
	Status                string             `json:"status"`
	CurrentTask           string             `json:"currentTask"`
	Progress              int                `json:"progress"`
	TasksCompleted        int                `json:"tasksCompleted"`
	ApplicationsSubmitted int                `json:"applicationsSubmitted"`
	LastRun               *time.Time         `json:"lastRun"`
	PersistentSession     *PersistentSession `json:"persistentSession,omitempty"`
	Quota                 *QuotaStatus       `json:"quota,omitempty"`
}

// Build assembles the snapshot for a user's most recent session. A user who
// never started one polls into the zero stopped state.
func Build(rec session.Record, found bool, q quota.Quota, plan string, now time.Time) Snapshot {
	snap := Snapshot{
		Status: session.StatusStopped,
		Quota:  &QuotaStatus{Plan: plan, DailyQuota: q.Limit, DailyUsage: q.Used, ResetsAt: q.ResetsAt.UTC()},
	}
	if !found {
		return snap
	}

	snap.Status = rec.Status
	snap.CurrentTask = rec.CurrentTask
	snap.Progress = rec.Progress
	snap.TasksCompleted = rec.TasksCompleted
	snap.ApplicationsSubmitted = rec.Submitted
	snap.LastRun = lastRun(rec)
	snap.PersistentSession = &PersistentSession{
		SurvivesRefresh: true,
		SessionID:       rec.ID,
		DurationSeconds: rec.DurationSeconds(now),
		RestartCount:    rec.RestartCount,
	}
	return snap
}

// lastRun is when the session last did work: the stop time once terminal,
// the start time while live.
func lastRun(rec session.Record) *time.Time {
	if rec.StoppedAt != nil {
		return rec.StoppedAt
	}
	if rec.StartedAt.IsZero() {
		return nil
	}
	t := rec.StartedAt
	return &t
}
