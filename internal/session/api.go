package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tonimelisma/authsession/internal/identity"
)

// Backend endpoints used by the session layer.
const (
	sessionsPath = "/sessions"
	mePath       = "/me"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	Permissions  []string `json:"permissions"`
	Roles        []string `json:"roles"`
}

// SignIn exchanges credentials for a token pair and makes it current. The
// call goes out without a bearer token and outside the refresh path, so a
// wrong password fails here and never ends any other session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	email = identity.NormalizeEmail(email)

	var out signInResponse
	if err := c.postUnauthenticated(ctx, sessionsPath, signInRequest{Email: email, Password: password}, &out); err != nil {
		return nil, fmt.Errorf("session: signing in: %w", err)
	}

	if out.Token == "" || out.RefreshToken == "" {
		return nil, fmt.Errorf("session: signing in: response is missing a token")
	}

	if err := c.SetTokens(ctx, Tokens{Access: out.Token, Refresh: out.RefreshToken}); err != nil {
		return nil, fmt.Errorf("session: storing credentials: %w", err)
	}

	return &identity.Identity{
		Email:       email,
		Permissions: out.Permissions,
		Roles:       out.Roles,
	}, nil
}

// Me fetches the identity behind the current access token.
func (c *Client) Me(ctx context.Context) (*identity.Identity, error) {
	var id identity.Identity
	if err := c.DoJSON(ctx, http.MethodGet, mePath, nil, &id); err != nil {
		return nil, err
	}

	return &id, nil
}
