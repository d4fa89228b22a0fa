package api

import (
	"context"
	"fmt"

	"github.com/runtime-land/land/internal/models"
)

// Token is a token as the admin API returns it. Value is present only
// when the token was just issued.
type Token struct {
	models.Token
	Value string `json:"value,omitempty"`
	IsNew bool   `json:"is_new"`
}

// LoginResponse is the result of exchanging a provider session.
type LoginResponse struct {
	User  *models.User  `json:"user"`
	Token *models.Token `json:"token"`
}

// Login exchanges an identity-provider session for a session token. It is
// the only call that works without a bearer token.
func (c *Client) Login(ctx context.Context, session string) (*LoginResponse, error) {
	var out LoginResponse
	body := map[string]string{"session": session}
	if err := c.Post(ctx, "/v1/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTokens returns the caller's tokens for one usage scope.
func (c *Client) ListTokens(ctx context.Context, usage string) ([]Token, error) {
	path := "/v1/settings/tokens"
	if usage != "" {
		path += "?usage=" + usage
	}
	var out []Token
	if err := c.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateToken issues a new token. Worker tokens require an admin caller.
func (c *Client) CreateToken(ctx context.Context, name, usage string) (*Token, error) {
	var out Token
	body := map[string]string{"name": name, "usage": usage}
	if err := c.Post(ctx, "/v1/settings/tokens", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteToken expires a token by id.
func (c *Client) DeleteToken(ctx context.Context, id int64) error {
	return c.Delete(ctx, fmt.Sprintf("/v1/settings/tokens/%d", id))
}
