package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks payloads that can never be processed. Consumers drop
// them instead of requeueing.
var ErrMalformed = errors.New("malformed handoff")

// Handoff is the payload that starts a worker on a session.
type Handoff struct {
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	Remaining  int    `json:"quotaRemaining"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeHandoff returns the JSON representation of a handoff.
func EncodeHandoff(h Handoff) ([]byte, error) {
	return json.Marshal(h)
}

// DecodeHandoff parses and validates a handoff payload.
func DecodeHandoff(payload []byte) (Handoff, error) {
	var h Handoff
	if err := json.Unmarshal(payload, &h); err != nil {
		return Handoff{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.UserID == "" {
		return Handoff{}, fmt.Errorf("%w: missing userId", ErrMalformed)
	}
	if h.SessionID == "" {
		return Handoff{}, fmt.Errorf("%w: missing sessionId", ErrMalformed)
	}
	if h.Remaining < 0 {
		return Handoff{}, fmt.Errorf("%w: negative quotaRemaining", ErrMalformed)
	}
	return h, nil
}
