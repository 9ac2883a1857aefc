package credentials

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential holds one provider's automation tokens for a user. Tokens are
// pushed in by the platform's OAuth flow; this service only stores and
// reports on them.
type Credential struct {
	UserID    string
	Provider  string
	Token     oauth2.Token
	UpdatedAt time.Time
}

// Usable reports whether the stored token can still drive automation: either
// the access token has not expired or a refresh token is available.
func (c Credential) Usable() bool {
	if c.Token.RefreshToken != "" {
		return c.Token.AccessToken != ""
	}
	return c.Token.Valid()
}
