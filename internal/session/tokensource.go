package session

import (
	"context"

	"golang.org/x/oauth2"
)

// clientTokenSource exposes the client's current pair as an oauth2 token.
type clientTokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource returns an oauth2.TokenSource reporting the current pair.
// It never refreshes; refreshing stays with the client's request path.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &clientTokenSource{ctx: ctx, client: c}
}

func (s *clientTokenSource) Token() (*oauth2.Token, error) {
	t := s.client.Tokens(s.ctx)
	if t.Access == "" {
		return nil, ErrNotSignedIn
	}

	return &oauth2.Token{
		AccessToken:  t.Access,
		RefreshToken: t.Refresh,
		TokenType:    "Bearer",
	}, nil
}
