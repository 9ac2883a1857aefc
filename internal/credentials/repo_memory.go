package credentials

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	creds map[string]map[string]Credential
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{creds: make(map[string]map[string]Credential)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byProvider, ok := r.creds[cred.UserID]
	if !ok {
		byProvider = make(map[string]Credential)
		r.creds[cred.UserID] = byProvider
	}
	cred.UpdatedAt = time.Now().UTC()
	byProvider[cred.Provider] = cred
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID, provider string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.creds[userID][provider]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	byProvider := r.creds[userID]
	out := make([]Credential, 0, len(byProvider))
	for _, cred := range byProvider {
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, provider string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byProvider, ok := r.creds[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byProvider[provider]; !ok {
		return ErrNotFound
	}
	delete(byProvider, provider)
	return nil
}
