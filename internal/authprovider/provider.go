// Package authprovider verifies browser sessions against the external
// identity provider. The platform never sees user credentials; it exchanges
// the provider's session token for a stable external identity.
package authprovider

import (
	"context"
)

// Identity is what the provider knows about an authenticated user.
type Identity struct {
	OauthUserID string `json:"oauth_user_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
}

// Provider validates session tokens issued by an external identity provider.
type Provider interface {
	// Verify validates a session token and returns the identity it belongs
	// to. An invalid or expired session is an error, not a nil identity.
	Verify(ctx context.Context, session string) (*Identity, error)
}
