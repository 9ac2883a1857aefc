package credentials

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Put stores or replaces a provider token for the user.
func (s *Service) Put(ctx context.Context, userID, provider string, token oauth2.Token) (Credential, error) {
	if s == nil || s.Repo == nil {
		return Credential{}, errors.New("credentials service not configured")
	}
	provider = normalizeProvider(provider)
	if provider == "" {
		return Credential{}, errors.New("provider is required")
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return Credential{}, errors.New("access token is required")
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	cred := Credential{UserID: userID, Provider: provider, Token: token}
	if err := s.Repo.Upsert(ctx, cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func (s *Service) Get(ctx context.Context, userID, provider string) (Credential, error) {
	if s == nil || s.Repo == nil {
		return Credential{}, errors.New("credentials service not configured")
	}
	return s.Repo.Get(ctx, userID, normalizeProvider(provider))
}

func (s *Service) List(ctx context.Context, userID string) ([]Credential, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("credentials service not configured")
	}
	return s.Repo.ListByUser(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, userID, provider string) error {
	if s == nil || s.Repo == nil {
		return errors.New("credentials service not configured")
	}
	return s.Repo.Delete(ctx, userID, normalizeProvider(provider))
}

// HasValid reports whether the user holds at least one usable automation
// credential. This is the start-precondition check the orchestrator calls.
func (s *Service) HasValid(ctx context.Context, userID string) (bool, error) {
	if s == nil || s.Repo == nil {
		return false, errors.New("credentials service not configured")
	}
	creds, err := s.Repo.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, cred := range creds {
		if cred.Usable() {
			return true, nil
		}
	}
	return false, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
