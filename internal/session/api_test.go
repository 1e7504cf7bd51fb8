package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIn_MissingTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "a"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	_, err := c.SignIn(t.Context(), "a@b.c", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a token")
	assert.Equal(t, Tokens{}, c.Tokens(t.Context()))
}

func TestSignIn_SendsNoBearer(t *testing.T) {
	b := newFakeBackend(t)
	c, _ := newSignedInClient(t, b, ModeInteractive, nil)

	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		b.serve(w, r)
	}))
	defer srv.Close()

	c.baseURL = srv.URL

	_, err := c.SignIn(t.Context(), "diego@rocketseat.team", "123456")
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestMe(t *testing.T) {
	b := newFakeBackend(t)
	c, _ := newSignedInClient(t, b, ModeInteractive, nil)

	id, err := c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "diego@rocketseat.team", id.Email)
	assert.Equal(t, []string{"administrator"}, id.Roles)
}
