package quota

import (
	"context"
	"time"
)

// Defaults resolves a user's daily limit and next reset boundary at quota
// creation and window rollover. It is how plan changes take effect: the
// limit is re-resolved every time the window resets.
type Defaults func(ctx context.Context, userID string, now time.Time) (limit int, resetsAt time.Time)

// StaticDefaults returns a Defaults that applies the same limit and timezone
// to every user.
func StaticDefaults(limit int, loc *time.Location) Defaults {
	if loc == nil {
		loc = time.UTC
	}
	return func(ctx context.Context, userID string, now time.Time) (int, time.Time) {
		return limit, NextReset(now, loc)
	}
}

// NextReset returns the next local midnight after now in the given zone.
func NextReset(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, 1).UTC()
}
