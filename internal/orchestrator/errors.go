package orchestrator

import "errors"

// Start rejections name the exact precondition that failed; clients need
// different actions for each.
var (
	ErrCredentialsMissing = errors.New("automation credentials missing")
	ErrAlreadyRunning     = errors.New("session already running")
	ErrQuotaExceeded      = errors.New("daily quota exhausted")
	ErrNotFound           = errors.New("session not found")
	ErrInvalidTransition  = errors.New("invalid session transition")
	ErrWorkerFailure      = errors.New("worker handoff failed")
)
