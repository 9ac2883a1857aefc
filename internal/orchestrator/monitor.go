package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"applypilot-backend/internal/session"
	"applypilot-backend/internal/shared/telemetry"
)

const (
	defaultHeartbeatTimeout = 90 * time.Second
	defaultMonitorInterval  = 15 * time.Second
)

// Monitor periodically fails sessions whose workers stopped reporting.
type Monitor struct {
	orch     *Orchestrator
	registry *session.Registry
	clock    clockwork.Clock
	timeout  time.Duration
	interval time.Duration
}

func NewMonitor(orch *Orchestrator, registry *session.Registry, clock clockwork.Clock, timeout, interval time.Duration) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &Monitor{orch: orch, registry: registry, clock: clock, timeout: timeout, interval: interval}
}

// Run sweeps on the configured interval until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.Sweep(ctx)
		}
	}
}

// Sweep checks every live session once. One bad session never blocks the
// rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.clock.Now().UTC()
	for _, rec := range m.registry.All() {
		if rec.Status != session.StatusRunning && rec.Status != session.StatusStarting {
			continue
		}
		if rec.LastHeartbeatAt.IsZero() || now.Sub(rec.LastHeartbeatAt) < m.timeout {
			continue
		}
		if err := m.orch.MarkUnresponsive(ctx, rec.ID, m.timeout); err != nil && !errors.Is(err, ErrNotFound) {
			telemetry.Warn("heartbeat sweep failed", map[string]any{
				"session_id": rec.ID,
				"error":      err.Error(),
			})
		}
	}
}
