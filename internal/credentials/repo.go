package credentials

import "context"

type Repo interface {
	Upsert(ctx context.Context, cred Credential) error
	Get(ctx context.Context, userID, provider string) (Credential, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	Delete(ctx context.Context, userID, provider string) error
}
