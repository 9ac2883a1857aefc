package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/quota"
	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/telemetry"
)

const defaultSchedulerInterval = time.Minute

// Scheduler re-arms quota-parked sessions once their daily window resets.
// User-stopped sessions are never touched: stopping rewrites the stop
// reason, and the sweep only considers sessions parked for quota.
type Scheduler struct {
	orch     *Orchestrator
	registry *session.Registry
	quota    *quota.Service
	clock    clockwork.Clock
	interval time.Duration
}

func NewScheduler(orch *Orchestrator, registry *session.Registry, quotaSvc *quota.Service, clock clockwork.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{orch: orch, registry: registry, quota: quotaSvc, clock: clock, interval: interval}
}

// Run sweeps on the configured interval until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep scans for quota-parked sessions, rolls any due quota windows, and
// restarts the sessions that now have budget. Reset and restart are both
// idempotent, so overlapping sweeps are harmless.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()
	for _, rec := range s.registry.All() {
		if rec.Status != session.StatusQuotaExceeded || rec.StopReason != session.StopReasonQuota {
			continue
		}

		q, fired, err := s.quota.ResetIfDue(ctx, rec.UserID, now)
		if err != nil {
			telemetry.Warn("quota reset sweep failed", map[string]any{
				"user_id": rec.UserID,
				"error":   err.Error(),
			})
			continue
		}
		if !fired && q.Exhausted() {
			continue
		}

		if _, err := s.orch.Restart(ctx, rec.UserID); err != nil {
			// Guard rejections already parked the session as stopped with an
			// explanatory log entry. Anything else waits for the next sweep.
			if errors.Is(err, ErrCredentialsMissing) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrInvalidTransition) {
				continue
			}
			telemetry.Warn("auto-restart failed", map[string]any{
				"user_id":    rec.UserID,
				"session_id": rec.ID,
				"error":      err.Error(),
			})
		}
	}
}
