package queue

import "context"

// Dispatcher hands a session off to a worker backend. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Dispatcher interface {
	Dispatch(ctx context.Context, h Handoff) error
}
