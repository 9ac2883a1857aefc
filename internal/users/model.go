package users

import "time"

// Plan names recognized by the billing boundary. Unknown plans fall back to
// starter limits.
const (
	PlanStarter = "starter"
	PlanPro     = "pro"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DailyLimit returns the daily application allowance for a plan.
func DailyLimit(plan string) int {
	switch plan {
	case PlanPro:
		return 50
	default:
		return 10
	}
}
