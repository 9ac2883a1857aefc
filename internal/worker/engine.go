package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"applypilot-backend/internal/activity"
	"applypilot-backend/internal/queue"
)

var ErrNotImplemented = errors.New("automation engine not implemented")

// Step is one scripted action of a session run. The runner stamps the
// session id and paces steps by Delay.
type Step struct {
	Event Event
	Delay time.Duration
}

// Engine plans the automation steps for one session run. Implementations
// must keep unit ids deterministic per session so redelivered handoffs
// stay idempotent.
type Engine interface {
	Plan(ctx context.Context, h queue.Handoff) ([]Step, error)
}

// PlaceholderEngine is a stub implementation until a browser automation
// provider is wired in.
type PlaceholderEngine struct{}

// Plan returns ErrNotImplemented.
func (PlaceholderEngine) Plan(ctx context.Context, h queue.Handoff) ([]Step, error) {
	_ = ctx
	_ = h
	return nil, ErrNotImplemented
}

var simBoards = []string{"LinkedIn", "Indeed", "Wellfound", "Otta"}

var simRoles = []string{
	"Backend Engineer",
	"Platform Engineer",
	"Site Reliability Engineer",
	"Software Engineer, Infrastructure",
	"Full Stack Developer",
}

// SimEngine scripts a deterministic run: for each unit it searches, fills
// and submits one application. Dev mode and tests.
type SimEngine struct {
	Units     int           // max applications per run; capped by quota remaining
	StepDelay time.Duration // think time between steps
}

func (e SimEngine) Plan(ctx context.Context, h queue.Handoff) ([]Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	units := e.Units
	if units <= 0 {
		units = 3
	}
	if h.Remaining < units {
		units = h.Remaining
	}

	// Unit ids are seeded per dispatch: redeliveries of one handoff repeat
	// ids and dedupe away, while a restarted cycle gets fresh ones.
	seed := h.RequestID
	if seed == "" {
		seed = h.SessionID
	}

	steps := []Step{}
	total := units * 2
	done := 0
	for i := 0; i < units; i++ {
		board := simBoards[i%len(simBoards)]
		role := simRoles[i%len(simRoles)]

		done++
		steps = append(steps, Step{
			Delay: e.StepDelay,
			Event: Event{
				Type:           EventProgress,
				Percent:        done * 100 / total,
				CurrentTask:    fmt.Sprintf("Searching %s for matching roles", board),
				TasksCompleted: done,
				Detail:         fmt.Sprintf("Found %s opening on %s", role, board),
				Level:          activity.LevelInfo,
			},
		})

		done++
		steps = append(steps, Step{
			Delay: e.StepDelay,
			Event: Event{
				Type:           EventUnitOfWork,
				Percent:        done * 100 / total,
				CurrentTask:    fmt.Sprintf("Submitting application for %s", role),
				TasksCompleted: done,
				UnitID:         fmt.Sprintf("%s-unit-%d", seed, i+1),
				Detail:         fmt.Sprintf("Application submitted: %s via %s", role, board),
				Level:          activity.LevelSuccess,
				Metadata:       map[string]string{"board": board, "role": role},
			},
		})
	}
	return steps, nil
}
