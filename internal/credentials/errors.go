package credentials

import "errors"

var (
	// ErrNotFound indicates no credential is stored for the user/provider.
	ErrNotFound = errors.New("credential not found")
	// ErrMissing indicates the user has no usable automation credentials at
	// all; start requests must surface this distinctly so the user knows to
	// link an account rather than retry.
	ErrMissing = errors.New("automation credentials missing")
)
