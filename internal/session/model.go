package session

import "time"

// Session lifecycle states.
const (
	StatusStopped       = "stopped"
	StatusStarting      = "starting"
	StatusRunning       = "running"
	StatusPaused        = "paused"
	StatusQuotaExceeded = "quota_exceeded"
	StatusError         = "error"
)

// StopReason records what precipitated a terminal transition. The restart
// scheduler keys off it: only quota-parked sessions are ever re-armed.
const (
	StopReasonNone            = ""
	StopReasonUser            = "user"
	StopReasonQuota           = "quota"
	StopReasonCompleted       = "completed"
	StopReasonWorkerFailure   = "worker_failure"
	StopReasonHeartbeat       = "heartbeat_timeout"
	StopReasonRestartRejected = "restart_rejected"
	StopReasonAdmin           = "admin"
)

// Error codes surfaced on records in StatusError.
const (
	ErrorCodeWorkerUnresponsive = "worker_unresponsive"
	ErrorCodeWorkerFailure      = "worker_failure"
)

// Record is the persisted representation of one automation session. State
// lives entirely server side, keyed by user; a client disconnect never
// mutates it.
type Record struct {
	ID              string     `json:"sessionId"`
	UserID          string     `json:"userId"`
	Status          string     `json:"status"`
	StopReason      string     `json:"stopReason,omitempty"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	CurrentTask     string     `json:"currentTask,omitempty"`
	Progress        int        `json:"progress"`
	TasksCompleted  int        `json:"tasksCompleted"`
	Submitted       int        `json:"applicationsSubmitted"`
	RestartCount    int        `json:"restartCount"`
	StartedAt       time.Time  `json:"startedAt"`
	LastHeartbeatAt time.Time  `json:"lastHeartbeatAt,omitempty"`
	StoppedAt       *time.Time `json:"stoppedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Live reports whether a status occupies the user's single active slot.
// Quota-parked and terminal rows do not.
func Live(status string) bool {
	switch status {
	case StatusStarting, StatusRunning, StatusPaused:
		return true
	}
	return false
}

func (r Record) Live() bool { return Live(r.Status) }

// DurationSeconds is the elapsed wall time of the current cycle, frozen at
// StoppedAt once the session ends.
func (r Record) DurationSeconds(now time.Time) int64 {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := now
	if r.StoppedAt != nil {
		end = *r.StoppedAt
	}
	d := end.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusPaused, StatusQuotaExceeded, StatusError:
		return true
	}
	return false
}
