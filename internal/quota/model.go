package quota

import "time"

// Quota is a user's daily application allowance snapshot.
type Quota struct {
	UserID   string    `json:"userId"`
	Limit    int       `json:"limit"`
	Used     int       `json:"used"`
	ResetsAt time.Time `json:"resetsAt"`
}

// Remaining returns how many units of work the user may still submit today.
func (q Quota) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Exhausted reports whether the daily allowance is fully consumed.
func (q Quota) Exhausted() bool {
	return q.Used >= q.Limit
}
