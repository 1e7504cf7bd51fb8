package session

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/authsession/internal/credstore"
)

func TestDo_AttachesHeaders(t *testing.T) {
	var got http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", UserAgent: "test-agent", Logger: quietLogger()})
	require.NoError(t, c.SetTokens(t.Context(), Tokens{Access: "abc", Refresh: "def"}))

	resp, err := c.Do(t.Context(), http.MethodPost, "/users", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.Equal(t, "test-agent", got.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.NotEmpty(t, got.Get("X-Request-Id"))
}

func TestDo_NoTokenOmitsAuthorization(t *testing.T) {
	var auth []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Values("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	resp, err := c.Do(t.Context(), http.MethodGet, "/public", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, auth)
}

func TestDo_NonAuthResponsesPassThrough(t *testing.T) {
	b := newFakeBackend(t)
	signOut := &countingSignOut{}
	c, _ := newSignedInClient(t, b, ModeInteractive, signOut)

	resp, err := c.Do(t.Context(), http.MethodGet, "/boom", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "boom")
	assert.Zero(t, b.refreshCalls.Load())
	assert.Zero(t, signOut.calls.Load())
}

func TestDo_InvalidTokenInteractiveSignsOut(t *testing.T) {
	b := newFakeBackend(t)
	signOut := &countingSignOut{}
	c, _ := newSignedInClient(t, b, ModeInteractive, signOut)

	_, err := c.Do(t.Context(), http.MethodGet, "/invalid", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "token.invalid", apiErr.Code)

	assert.Equal(t, int32(1), signOut.calls.Load())
	assert.Zero(t, b.refreshCalls.Load())
}

func TestDo_InvalidTokenRenderingLeavesSession(t *testing.T) {
	b := newFakeBackend(t)
	signOut := &countingSignOut{}
	c, store := newSignedInClient(t, b, ModeRendering, signOut)

	_, err := c.Do(t.Context(), http.MethodGet, "/invalid", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthTokenInvalid)
	assert.NotErrorIs(t, err, ErrSessionInvalid)

	assert.Zero(t, signOut.calls.Load())
	assert.Zero(t, b.refreshCalls.Load())

	access, found, err := store.Get(t.Context(), credstore.AccessTokenName)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "access-0", access)
}

func TestDo_ReplaySendsSameBody(t *testing.T) {
	b := newFakeBackend(t)
	c, _ := newSignedInClient(t, b, ModeInteractive, nil)
	b.expire()

	payload := `{"email":"new@example.com"}`

	resp, err := c.Do(t.Context(), http.MethodPost, "/users", bytes.NewBufferString(payload))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{payload, payload}, b.receivedBodies())
}

func TestDo_UnavailableStoreReadsAsSignedOut(t *testing.T) {
	b := newFakeBackend(t)
	signOut := &countingSignOut{}

	c := NewClient(Config{
		BaseURL: b.URL(),
		Store:   failingStore{},
		SignOut: signOut,
		Logger:  quietLogger(),
	})

	_, err := c.Do(t.Context(), http.MethodGet, "/users", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, int32(1), signOut.calls.Load())
}

func TestDo_TransportErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Logger: quietLogger()})

	_, err := c.Do(t.Context(), http.MethodGet, "/users", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session: GET /users")
}

func TestDoJSON_ErrorResponseBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Request-Id", "req-1")
		writeJSON(w, http.StatusForbidden, map[string]any{"code": "permission.denied", "message": "no"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	err := c.DoJSON(t.Context(), http.MethodGet, "/metrics", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "permission.denied", apiErr.Code)
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Equal(t, "session: HTTP 403 (request-id: req-1): permission.denied: no", apiErr.Error())
}

func TestReadAPIError_PlainTextBody(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	_, _ = rec.WriteString("upstream down\n")

	apiErr := readAPIError(rec.Result())

	assert.Equal(t, "upstream down", apiErr.Message)
	assert.ErrorIs(t, apiErr, ErrServerError)
	assert.Equal(t, "session: HTTP 502: upstream down", apiErr.Error())
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusServiceUnavailable, ErrServerError},
		{http.StatusTeapot, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestClassifyAuthCode(t *testing.T) {
	assert.Equal(t, ErrTokenExpired, classifyAuthCode(CodeTokenExpired))
	assert.Equal(t, ErrUnauthorized, classifyAuthCode("token.invalid"))
	assert.Equal(t, ErrUnauthorized, classifyAuthCode(""))
}

func TestSetTokens_StoreFailureStillSwapsPair(t *testing.T) {
	c := NewClient(Config{Store: failingStore{}, Logger: quietLogger()})

	err := c.SetTokens(t.Context(), Tokens{Access: "a", Refresh: "r"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStoreDown))

	assert.Equal(t, Tokens{Access: "a", Refresh: "r"}, c.Tokens(t.Context()))
}

func TestClearTokens(t *testing.T) {
	store := credstore.NewMemoryStore()
	c := NewClient(Config{Store: store, Logger: quietLogger()})
	require.NoError(t, c.SetTokens(t.Context(), Tokens{Access: "a", Refresh: "r"}))

	require.NoError(t, c.ClearTokens(t.Context()))

	assert.Equal(t, Tokens{}, c.Tokens(t.Context()))

	_, found, err := store.Get(t.Context(), credstore.AccessTokenName)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReset_ReloadsFromStore(t *testing.T) {
	store := credstore.NewMemoryStore()
	c := NewClient(Config{Store: store, Logger: quietLogger()})
	assert.Equal(t, Tokens{}, c.Tokens(t.Context()))

	// Another holder of the medium signs in.
	require.NoError(t, store.Set(t.Context(), credstore.AccessTokenName, "a2", credstore.DefaultOptions()))
	require.NoError(t, store.Set(t.Context(), credstore.RefreshTokenName, "r2", credstore.DefaultOptions()))

	assert.Equal(t, Tokens{}, c.Tokens(t.Context()))

	c.Reset()
	assert.Equal(t, Tokens{Access: "a2", Refresh: "r2"}, c.Tokens(t.Context()))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})

	assert.Equal(t, http.DefaultClient, c.httpClient)
	assert.Equal(t, DefaultUserAgent, c.userAgent)
	assert.Equal(t, DefaultRefreshTimeout, c.refreshTimeout)
	assert.Equal(t, credstore.DefaultNames(), c.names)
	assert.Equal(t, credstore.DefaultOptions(), c.storeOpts)
	assert.Equal(t, ModeInteractive, c.Mode())
	assert.NotNil(t, c.store)
	assert.NotNil(t, c.logger)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "interactive", ModeInteractive.String())
	assert.Equal(t, "rendering", ModeRendering.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
