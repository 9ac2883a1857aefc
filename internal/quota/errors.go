package quota

import "errors"

// ErrExhausted indicates the user's daily allowance is fully consumed.
var ErrExhausted = errors.New("daily quota exhausted")
