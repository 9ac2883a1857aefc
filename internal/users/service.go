package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// EnsureUser materializes a user record from the platform identity on first
// authenticated touch. Existing plan and timezone settings are preserved.
func (s *Service) EnsureUser(ctx context.Context, id, email, name string) error {
	if s == nil || s.Repo == nil {
		return errors.New("users service not configured")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("user id is required")
	}
	return s.Repo.Upsert(ctx, User{ID: id, Email: email, Name: name})
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}

// UpdateSettings changes the user's plan or timezone. Empty values leave the
// current setting untouched. Timezones must resolve in the IANA database.
func (s *Service) UpdateSettings(ctx context.Context, userID, plan, timezone string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan != "" && plan != PlanStarter && plan != PlanPro {
		return User{}, ErrInvalidPlan
	}
	timezone = strings.TrimSpace(timezone)
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return User{}, ErrInvalidTimezone
		}
	}
	return s.Repo.UpdateSettings(ctx, userID, plan, timezone)
}

// Location resolves the user's configured timezone, falling back to the
// provided default when unset or unknown.
func (s *Service) Location(ctx context.Context, userID string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if s == nil || s.Repo == nil {
		return fallback
	}
	user, err := s.Repo.GetByID(ctx, userID)
	if err != nil || strings.TrimSpace(user.Timezone) == "" {
		return fallback
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// PlanFor returns the user's plan, defaulting to starter for unknown users.
func (s *Service) PlanFor(ctx context.Context, userID string) string {
	if s == nil || s.Repo == nil {
		return PlanStarter
	}
	user, err := s.Repo.GetByID(ctx, userID)
	if err != nil || user.Plan == "" {
		return PlanStarter
	}
	return user.Plan
}

var (
	ErrInvalidPlan     = errors.New("unknown plan")
	ErrInvalidTimezone = errors.New("unknown timezone")
)
