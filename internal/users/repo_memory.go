package users

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[string]User)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, user User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	now := time.Now().UTC()
	if !ok {
		user.CreatedAt = now
		if user.Plan == "" {
			user.Plan = PlanStarter
		}
	} else {
		user.CreatedAt = existing.CreatedAt
		// Identity refresh never downgrades plan or drops settings.
		if user.Plan == "" {
			user.Plan = existing.Plan
		}
		if user.Timezone == "" {
			user.Timezone = existing.Timezone
		}
	}
	user.UpdatedAt = now
	r.users[user.ID] = user
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryRepo) UpdateSettings(ctx context.Context, userID, plan, timezone string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if plan != "" {
		user.Plan = plan
	}
	if timezone != "" {
		user.Timezone = timezone
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[userID] = user
	return user, nil
}
