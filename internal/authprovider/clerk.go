package authprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/runtime-land/land/internal/pkg/errors"
)

const defaultClerkAPI = "https://api.clerk.com"

// ClerkProvider verifies sessions against the Clerk backend API using the
// instance secret key.
type ClerkProvider struct {
	apiURL    string
	secretKey string
	client    *http.Client
}

// NewClerkProvider creates a Clerk-backed provider.
func NewClerkProvider(secretKey string) *ClerkProvider {
	return &ClerkProvider{
		apiURL:    defaultClerkAPI,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type clerkClaims struct {
	Sub string `json:"sub"`
}

type clerkEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type clerkUser struct {
	ID                    string       `json:"id"`
	FirstName             string       `json:"first_name"`
	LastName              string       `json:"last_name"`
	Username              *string      `json:"username"`
	ImageURL              string       `json:"image_url"`
	PrimaryEmailAddressID string       `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmail `json:"email_addresses"`
}

// Verify exchanges the session token for the Clerk user behind it. The
// token is first checked server-side, then the user record is fetched for
// profile fields.
func (p *ClerkProvider) Verify(ctx context.Context, session string) (*Identity, error) {
	claims, err := p.verifyToken(ctx, session)
	if err != nil {
		return nil, err
	}

	user, err := p.fetchUser(ctx, claims.Sub)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		OauthUserID: user.ID,
		Name:        strings.TrimSpace(user.FirstName + " " + user.LastName),
		Avatar:      user.ImageURL,
	}
	if identity.Name == "" && user.Username != nil {
		identity.Name = *user.Username
	}
	for _, e := range user.EmailAddresses {
		if e.ID == user.PrimaryEmailAddressID {
			identity.Email = e.EmailAddress
			break
		}
	}
	if identity.Email == "" && len(user.EmailAddresses) > 0 {
		identity.Email = user.EmailAddresses[0].EmailAddress
	}
	return identity, nil
}

func (p *ClerkProvider) verifyToken(ctx context.Context, session string) (*clerkClaims, error) {
	body := strings.NewReader(fmt.Sprintf(`{"token":%q}`, session))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/tokens/verify", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apierrors.ErrUpstream.WithMessage("auth provider unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, apierrors.ErrUnauthorized.WithMessage("session is invalid or expired")
	default:
		return nil, apierrors.ErrUpstream.WithMessage(fmt.Sprintf("auth provider returned %d", resp.StatusCode))
	}

	var claims clerkClaims
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&claims); err != nil {
		return nil, apierrors.ErrUpstream.WithMessage("auth provider returned malformed claims")
	}
	if claims.Sub == "" {
		return nil, apierrors.ErrUnauthorized.WithMessage("session has no subject")
	}
	return &claims, nil
}

func (p *ClerkProvider) fetchUser(ctx context.Context, userID string) (*clerkUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/v1/users/"+userID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apierrors.ErrUpstream.WithMessage("auth provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.ErrUpstream.WithMessage(fmt.Sprintf("auth provider returned %d fetching user", resp.StatusCode))
	}

	var user clerkUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return nil, apierrors.ErrUpstream.WithMessage("auth provider returned malformed user")
	}
	return &user, nil
}
