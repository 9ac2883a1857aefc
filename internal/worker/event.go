package worker

import "context"

// Event types a worker reports back to the orchestrator.
const (
	EventStarted    = "started"
	EventHeartbeat  = "heartbeat"
	EventProgress   = "progress"
	EventUnitOfWork = "unit_of_work"
	EventFailure    = "failure"
	EventStopped    = "stopped"
)

// Ack actions instruct the worker what to do after each report.
const (
	ActionContinue = "continue"
	ActionPause    = "pause"
	ActionStop     = "stop"
)

// Event is one report from a worker about a session. Delivery is
// at-least-once; UnitID makes unit_of_work events idempotent.
type Event struct {
	Type           string            `json:"type"`
	SessionID      string            `json:"sessionId"`
	Percent        int               `json:"percent,omitempty"`
	CurrentTask    string            `json:"currentTask,omitempty"`
	TasksCompleted int               `json:"tasksCompleted,omitempty"`
	UnitID         string            `json:"unitId,omitempty"`
	Detail         string            `json:"detail,omitempty"`
	Level          string            `json:"level,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Ack is the orchestrator's reply to a report.
type Ack struct {
	Action string `json:"action"`
}

// Reporter receives worker events. The orchestrator implements it in
// process; remote workers reach it over HTTP.
type Reporter interface {
	Report(ctx context.Context, e Event) (Ack, error)
}
