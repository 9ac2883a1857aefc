package activity

import (
	"fmt"
	"time"
)

const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Entry is one immutable line in a session's activity transcript. Ids are
// store-assigned, unique and strictly increasing within a session, and never
// reused after eviction or clear.
type Entry struct {
	ID        int64             `json:"id"`
	SessionID string            `json:"sessionId"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Details   string            `json:"details"`
	Level     string            `json:"level"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FormatLine renders the export form of an entry.
func (e Entry) FormatLine() string {
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.Details)
}

func normalizeLevel(level string) string {
	switch level {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}
