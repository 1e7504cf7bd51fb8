package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/authsession/internal/credstore"
)

// fakeBackend speaks the session API. Access tokens are "access-N" and
// refresh tokens "refresh-N"; every successful refresh bumps N. The current
// access token is valid unless expired, any older access token is reported
// as expired, and anything else is invalid.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	gen           int
	accessExpired bool
	refreshGate   chan struct{} // when set, /refresh blocks until closed
	refreshStatus int           // when set, /refresh fails with this status
	refreshHangup bool          // when set, /refresh drops the connection
	rejectReplays bool          // when set, the fresh token is rejected too
	responseGates map[string]chan struct{}
	bodies        []string

	refreshCalls atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{t: t}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)

	return b
}

func (b *fakeBackend) URL() string {
	return b.srv.URL
}

func (b *fakeBackend) accessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return fmt.Sprintf("access-%d", b.gen)
}

func (b *fakeBackend) refreshToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return fmt.Sprintf("refresh-%d", b.gen)
}

// expire makes the current access token report token.expired.
func (b *fakeBackend) expire() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.accessExpired = true
}

// holdRefresh makes /refresh block until the returned function is called.
func (b *fakeBackend) holdRefresh() (release func()) {
	gate := make(chan struct{})

	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }
}

// holdResponse makes the next response on path wait until the returned
// function is called. The outcome is decided when the request arrives.
func (b *fakeBackend) holdResponse(path string) (release func()) {
	gate := make(chan struct{})

	b.mu.Lock()
	if b.responseGates == nil {
		b.responseGates = make(map[string]chan struct{})
	}
	b.responseGates[path] = gate
	b.mu.Unlock()

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }
}

func (b *fakeBackend) failRefresh(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshStatus = status
}

func (b *fakeBackend) receivedBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.bodies...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":   true,
		"code":    code,
		"message": "rejected: " + code,
	})
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case refreshPath:
		b.serveRefresh(w, r)
	case sessionsPath:
		b.serveSessions(w, r)
	case "/boom":
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
	default:
		b.serveResource(w, r)
	}
}

func (b *fakeBackend) serveRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	var in struct {
		RefreshToken string `json:"refreshToken"`
	}

	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refreshHangup {
		hj, ok := w.(http.Hijacker)
		require.True(b.t, ok)

		conn, _, err := hj.Hijack()
		require.NoError(b.t, err)
		conn.Close()

		return
	}

	if b.refreshStatus != 0 {
		writeAuthError(w, "token.invalid")
		return
	}

	if in.RefreshToken != fmt.Sprintf("refresh-%d", b.gen) {
		writeAuthError(w, "token.invalid")
		return
	}

	b.gen++
	b.accessExpired = false

	writeJSON(w, http.StatusOK, map[string]string{
		"token":        fmt.Sprintf("access-%d", b.gen),
		"refreshToken": fmt.Sprintf("refresh-%d", b.gen),
	})
}

func (b *fakeBackend) serveSessions(w http.ResponseWriter, r *http.Request) {
	var in signInRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	if in.Email != "diego@rocketseat.team" || in.Password != "123456" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":   true,
			"code":    "credentials.invalid",
			"message": "E-mail or password incorrect.",
		})

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, signInResponse{
		Token:        fmt.Sprintf("access-%d", b.gen),
		RefreshToken: fmt.Sprintf("refresh-%d", b.gen),
		Permissions:  []string{"users.list"},
		Roles:        []string{"administrator"},
	})
}

// serveResource answers any other path. /me returns an identity; every
// other path echoes the bearer token and body it was called with.
func (b *fakeBackend) serveResource(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	current := fmt.Sprintf("access-%d", b.gen)
	valid := token == current && !b.accessExpired && !(b.rejectReplays && b.gen > 0)
	known := strings.HasPrefix(token, "access-")
	b.bodies = append(b.bodies, string(body))
	gate := b.responseGates[r.URL.Path]
	delete(b.responseGates, r.URL.Path)
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	switch {
	case r.URL.Path == "/invalid":
		writeAuthError(w, "token.invalid")
	case valid && r.URL.Path == mePath:
		writeJSON(w, http.StatusOK, map[string]any{
			"email":       "diego@rocketseat.team",
			"permissions": []string{"users.list"},
			"roles":       []string{"administrator"},
		})
	case valid:
		writeJSON(w, http.StatusOK, echo{Path: r.URL.Path, Token: token, Body: string(body)})
	case known:
		writeAuthError(w, CodeTokenExpired)
	default:
		writeAuthError(w, "token.invalid")
	}
}

type echo struct {
	Path  string `json:"path"`
	Token string `json:"token"`
	Body  string `json:"body"`
}

// countingSignOut records how often sign-out ran.
type countingSignOut struct {
	calls atomic.Int32
	err   error
}

func (s *countingSignOut) SignOut(context.Context) error {
	s.calls.Add(1)
	return s.err
}

// blockingSignOut holds sign-out open until unblock is called.
type blockingSignOut struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSignOut() *blockingSignOut {
	return &blockingSignOut{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *blockingSignOut) SignOut(context.Context) error {
	s.calls.Add(1)

	select {
	case s.entered <- struct{}{}:
	default:
	}

	<-s.release

	return nil
}

func (s *blockingSignOut) unblock() {
	s.once.Do(func() { close(s.release) })
}

// failingStore is a credential medium that is always unavailable.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errStoreDown
}

func (failingStore) Set(context.Context, string, string, credstore.Options) error {
	return errStoreDown
}

func (failingStore) Clear(context.Context, string) error {
	return errStoreDown
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSignedInClient returns a client whose store holds the backend's
// current pair.
func newSignedInClient(t *testing.T, b *fakeBackend, mode Mode, signOut SignOuter) (*Client, *credstore.MemoryStore) {
	t.Helper()

	store := credstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, credstore.AccessTokenName, b.accessToken(), credstore.DefaultOptions()))
	require.NoError(t, store.Set(ctx, credstore.RefreshTokenName, b.refreshToken(), credstore.DefaultOptions()))

	c := NewClient(Config{
		BaseURL: b.URL(),
		Store:   store,
		Mode:    mode,
		SignOut: signOut,
		Logger:  quietLogger(),
	})

	return c, store
}

// getEcho performs GET path and decodes the echoed request.
func getEcho(ctx context.Context, c *Client, path string) (echo, error) {
	var e echo
	err := c.DoJSON(ctx, http.MethodGet, path, nil, &e)

	return e, err
}

// waitPending waits until n requests are queued behind the refresh.
func waitPending(t *testing.T, c *Client, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return c.refresh.pending() == n
	}, 5*time.Second, time.Millisecond, "expected %d pending requests", n)
}

// waitRefreshCalls waits until the backend has seen n refresh calls.
func waitRefreshCalls(t *testing.T, b *fakeBackend, n int32) {
	t.Helper()

	require.Eventually(t, func() bool {
		return b.refreshCalls.Load() == n
	}, 5*time.Second, time.Millisecond, "expected %d refresh calls", n)
}
