package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/credstore"
	"github.com/tonimelisma/authsession/internal/identity"
	"github.com/tonimelisma/authsession/internal/session"
)

const (
	seedEmail    = "diego@rocketseat.team"
	seedPassword = "123456"
	accessTTL    = time.Minute
)

// fakeClock is a concurrency-safe adjustable clock.
type fakeClock struct {
	unix atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.unix.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix())

	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(c.unix.Load(), 0)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.unix.Add(int64(d / time.Second))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *fakeClock) {
	t.Helper()

	clock := newFakeClock()

	s, err := New(t.Context(), Config{
		Database:     filepath.Join(t.TempDir(), "dev.db"),
		SigningKey:   []byte("test-signing-key"),
		AccessTTL:    accessTTL,
		RefreshTTL:   24 * time.Hour,
		SeedEmail:    seedEmail,
		SeedPassword: seedPassword,
		Clock:        clock.Now,
	}, quietLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, s.Close())
	})

	return s, srv, clock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)

	return resp
}

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func signIn(t *testing.T, url string) sessionsResponse {
	t.Helper()

	resp := postJSON(t, url+"/sessions", sessionsRequest{Email: seedEmail, Password: seedPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return decode[sessionsResponse](t, resp)
}

func TestSessions_SignIn(t *testing.T) {
	_, srv, _ := newTestServer(t)

	out := signIn(t, srv.URL)

	assert.NotEmpty(t, out.Token)
	assert.NotEmpty(t, out.RefreshToken)
	assert.Equal(t, DefaultSeedPermissions, out.Permissions)
	assert.Equal(t, DefaultSeedRoles, out.Roles)
}

func TestSessions_EmailIsNormalized(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions", sessionsRequest{Email: " Diego@RocketSeat.team", Password: seedPassword})
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessions_WrongPassword(t *testing.T) {
	_, srv, _ := newTestServer(t)

	for _, in := range []sessionsRequest{
		{Email: seedEmail, Password: "wrong"},
		{Email: "nobody@example.com", Password: seedPassword},
	} {
		resp := postJSON(t, srv.URL+"/sessions", in)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		out := decode[errorResponse](t, resp)
		assert.True(t, out.Error)
		assert.Equal(t, codeCredentialsInvalid, out.Code)
	}
}

func TestSessions_MalformedBody(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMe_TokenStates(t *testing.T) {
	_, srv, clock := newTestServer(t)
	out := signIn(t, srv.URL)

	resp := getWithToken(t, srv.URL+"/me", out.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, seedEmail, decode[identity.Identity](t, resp).Email)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", codeTokenInvalid},
		{"garbage", "not-a-jwt", codeTokenInvalid},
		{"forged", out.Token + "x", codeTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := getWithToken(t, srv.URL+"/me", tt.token)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorResponse](t, resp).Code)
		})
	}

	clock.Advance(accessTTL + time.Second)

	resp = getWithToken(t, srv.URL+"/me", out.Token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeTokenExpired, decode[errorResponse](t, resp).Code)
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	_, srv, clock := newTestServer(t)
	first := signIn(t, srv.URL)

	clock.Advance(accessTTL + time.Second)

	resp := postJSON(t, srv.URL+"/refresh", refreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	next := decode[refreshResponse](t, resp)
	assert.NotEqual(t, first.RefreshToken, next.RefreshToken)

	resp = getWithToken(t, srv.URL+"/me", next.Token)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A refresh token works once.
	resp = postJSON(t, srv.URL+"/refresh", refreshRequest{RefreshToken: first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeTokenInvalid, decode[errorResponse](t, resp).Code)
}

func TestRefresh_ExpiredRefreshToken(t *testing.T) {
	_, srv, clock := newTestServer(t)
	out := signIn(t, srv.URL)

	clock.Advance(25 * time.Hour)

	resp := postJSON(t, srv.URL+"/refresh", refreshRequest{RefreshToken: out.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeTokenInvalid, decode[errorResponse](t, resp).Code)
}

func TestRefresh_MissingToken(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/refresh", refreshRequest{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeTokenInvalid, decode[errorResponse](t, resp).Code)
}

func TestUsers_ListsSeedUser(t *testing.T) {
	_, srv, _ := newTestServer(t)
	out := signIn(t, srv.URL)

	resp := getWithToken(t, srv.URL+"/users", out.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	users := decode[usersResponse](t, resp)
	require.Len(t, users.Users, 1)
	assert.Equal(t, seedEmail, users.Users[0].Email)
}

func TestRequestIDEchoed(t *testing.T) {
	_, srv, _ := newTestServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))

	resp = getWithToken(t, srv.URL+"/me", "")
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestPrune_RemovesUsedTokens(t *testing.T) {
	s, srv, _ := newTestServer(t)
	out := signIn(t, srv.URL)

	resp := postJSON(t, srv.URL+"/refresh", refreshRequest{RefreshToken: out.RefreshToken})
	resp.Body.Close()

	require.NoError(t, s.Prune(t.Context()))

	var count int
	require.NoError(t, s.store.db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM refresh_tokens").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNew_ReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.db")
	cfg := Config{Database: path, AccessTTL: time.Minute, RefreshTTL: time.Hour, SeedEmail: seedEmail, SeedPassword: seedPassword}

	s, err := New(t.Context(), cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(t.Context(), cfg, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	users, err := s.store.listUsers(t.Context())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

// The session client recovers from expired access tokens against the real
// token lifecycle: concurrent requests share one rotation.
func TestSessionClient_EndToEnd(t *testing.T) {
	_, srv, clock := newTestServer(t)

	store := credstore.NewMemoryStore()
	c := session.NewClient(session.Config{BaseURL: srv.URL, Store: store, Logger: quietLogger()})

	_, err := c.SignIn(t.Context(), seedEmail, seedPassword)
	require.NoError(t, err)

	first := c.Tokens(t.Context())

	clock.Advance(accessTTL + time.Second)

	const n = 8

	var wg sync.WaitGroup

	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			var out usersResponse
			errs[i] = c.DoJSON(t.Context(), http.MethodGet, "/users", nil, &out)
		}()
	}

	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}

	// Rotation happened at least once and the old refresh token is spent.
	second := c.Tokens(t.Context())
	assert.NotEqual(t, first.Refresh, second.Refresh)

	resp := postJSON(t, srv.URL+"/refresh", refreshRequest{RefreshToken: first.Refresh})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEvents_RelaysBetweenSessions(t *testing.T) {
	_, srv, _ := newTestServer(t)

	eventsURL := srv.URL + "/events"
	origin := "http://localhost:3000"

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	listener := broadcast.NewWebSocketBus(eventsURL, origin, quietLogger())
	msgs, err := listener.Subscribe(ctx)
	require.NoError(t, err)

	publisher := broadcast.NewWebSocketBus(eventsURL, origin, quietLogger())
	require.NoError(t, publisher.Publish(t.Context(), broadcast.SignOut))

	select {
	case msg := <-msgs:
		assert.Equal(t, broadcast.SignOut, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("signal not relayed")
	}
}
