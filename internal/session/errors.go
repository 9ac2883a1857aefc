package session

import "errors"

var (
	// ErrNotFound means the session id is unknown or no longer current.
	ErrNotFound = errors.New("session not found")
	// ErrConflict means the at-most-one-active invariant would be violated.
	ErrConflict = errors.New("active session already exists")
)
