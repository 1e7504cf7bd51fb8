package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tonimelisma/authsession/internal/identity"
)

// Auth failure codes in 401 payloads. Only codeTokenExpired is recoverable
// by refreshing.
const (
	codeTokenExpired       = "token.expired"
	codeTokenInvalid       = "token.invalid"
	codeCredentialsInvalid = "credentials.invalid"
)

var (
	errTokenExpired = errors.New("devserver: access token expired")
	errTokenInvalid = errors.New("devserver: access token invalid")
)

// accessClaims are the claims of an access token.
type accessClaims struct {
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies HS256 access tokens.
type tokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// issue returns a signed access token for id.
func (ti *tokenIssuer) issue(id *identity.Identity) (string, error) {
	now := ti.now()

	claims := accessClaims{
		Permissions: id.Permissions,
		Roles:       id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", fmt.Errorf("devserver: signing access token: %w", err)
	}

	return signed, nil
}

// verify returns the identity in a valid token. Expired tokens yield
// errTokenExpired; anything else wrong yields errTokenInvalid.
func (ti *tokenIssuer) verify(raw string) (*identity.Identity, error) {
	var claims accessClaims

	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return ti.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %w", errTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", errTokenInvalid)
	}

	return &identity.Identity{
		Email:       claims.Subject,
		Permissions: claims.Permissions,
		Roles:       claims.Roles,
	}, nil
}
