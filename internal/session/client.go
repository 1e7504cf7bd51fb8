package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/authsession/internal/credstore"
)

// Defaults applied by NewClient for zero Config fields.
const (
	DefaultUserAgent      = "authsession/0.1"
	DefaultRefreshTimeout = 30 * time.Second
)

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 << 10

// Mode says what kind of execution context a Client serves.
type Mode int

const (
	// ModeInteractive is a live user session that can sign out globally,
	// notify other sessions and navigate to the entry point.
	ModeInteractive Mode = iota

	// ModeRendering is a server-side context answering one inbound request
	// before any interactive session exists. Unrecoverable auth failures
	// surface as ErrAuthTokenInvalid instead of signing out.
	ModeRendering
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeRendering:
		return "rendering"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Tokens is the access/refresh token pair. Both values are opaque.
type Tokens struct {
	Access  string
	Refresh string
}

// SignOuter ends the session everywhere: clears stored credentials, tells
// other sessions of the origin, and returns to the entry point.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// Config configures a Client. Zero values get defaults.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	Store          credstore.Store
	Names          credstore.Names
	StoreOptions   credstore.Options
	Mode           Mode
	SignOut        SignOuter // interactive mode only; may be nil
	RefreshTimeout time.Duration
	UserAgent      string
	Logger         *slog.Logger
}

// Client issues requests against the backend with the session's access
// token attached, and owns the refresh coordinator that recovers from
// expired tokens. One Client serves one execution context; never share a
// Client between users.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	store          credstore.Store
	names          credstore.Names
	storeOpts      credstore.Options
	mode           Mode
	signOut        SignOuter
	refreshTimeout time.Duration
	userAgent      string
	logger         *slog.Logger

	// mu guards the cached pair. New requests read the access token from
	// here, so swapping both fields under one lock is what makes a refresh
	// visible atomically.
	mu     sync.RWMutex
	tokens Tokens
	loaded bool

	refresh *coordinator
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.Store == nil {
		cfg.Store = credstore.NewMemoryStore()
	}

	if cfg.Names == (credstore.Names{}) {
		cfg.Names = credstore.DefaultNames()
	}

	if cfg.StoreOptions == (credstore.Options{}) {
		cfg.StoreOptions = credstore.DefaultOptions()
	}

	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     cfg.HTTPClient,
		store:          cfg.Store,
		names:          cfg.Names,
		storeOpts:      cfg.StoreOptions,
		mode:           cfg.Mode,
		signOut:        cfg.SignOut,
		refreshTimeout: cfg.RefreshTimeout,
		userAgent:      cfg.UserAgent,
		logger:         cfg.Logger,
	}

	c.refresh = &coordinator{client: c}

	return c
}

// Mode returns the execution context kind this client serves.
func (c *Client) Mode() Mode {
	return c.mode
}

// request is a replayable request descriptor. The body is buffered once so
// every attempt sends identical bytes.
type request struct {
	method string
	path   string
	body   []byte
}

// Do sends a request to path (relative to the base URL) with the current
// access token attached.
//
// A 401 whose payload code is "token.expired" is recovered transparently:
// the token pair is refreshed (once, however many requests are waiting) and
// the request is replayed with the new access token. Any other 401 ends the
// session: in interactive mode sign-out runs and the error wraps
// ErrSessionInvalid; in rendering mode the error wraps ErrAuthTokenInvalid.
//
// Every other response, including 5xx, is returned unchanged. The caller
// closes the response body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req := &request{method: method, path: path}

	if body != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("session: reading request body: %w", err)
		}

		req.body = data
	}

	token := c.accessToken(ctx)

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	failure := readAPIError(resp)
	if failure.Code == CodeTokenExpired {
		c.logger.Info("access token expired, refreshing",
			slog.String("method", method),
			slog.String("path", path),
		)

		return c.refresh.handle(ctx, req, token)
	}

	return nil, c.unrecoverable(ctx, req, failure)
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response
// into out (when non-nil). Non-2xx responses become *APIError.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("session: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}

	return decodeJSON(resp, out)
}

// newJSONRequest builds a request descriptor with in encoded as its body.
func newJSONRequest(method, path string, in any) (*request, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("session: encoding request: %w", err)
	}

	return &request{method: method, path: path, body: data}, nil
}

// decodeJSON decodes a response body into out. A nil out discards the body.
func decodeJSON(resp *http.Response, out any) error {
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("session: decoding %s response: %w", resp.Request.URL.Path, err)
	}

	return nil
}

// send executes one attempt of req with token as bearer credential.
func (c *Client) send(ctx context.Context, req *request, token string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("session: creating request: %w", err)
	}

	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("session: %s %s: %w", req.method, req.path, err)
	}

	c.logger.Debug("request completed",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Int("status", resp.StatusCode),
	)

	return resp, nil
}

// replay resends a request that failed with an expired token. A replay is
// attempted once: a second 401 is never refreshed again.
func (c *Client) replay(ctx context.Context, req *request, token string) (*http.Response, error) {
	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	failure := readAPIError(resp)

	c.logger.Warn("replayed request rejected after refresh",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.String("code", failure.Code),
	)

	return nil, c.unrecoverable(ctx, req, failure)
}

// unrecoverable handles a 401 that refreshing cannot fix.
func (c *Client) unrecoverable(ctx context.Context, req *request, failure *APIError) error {
	c.logger.Warn("request rejected, session is not recoverable",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.String("code", failure.Code),
		slog.String("mode", c.mode.String()),
	)

	return c.fail(ctx, failure, true)
}

// fail turns an unrecoverable auth failure into the mode's terminal error.
// When endSession is set in interactive mode, sign-out runs first.
func (c *Client) fail(ctx context.Context, cause error, endSession bool) error {
	if c.mode == ModeRendering {
		return fmt.Errorf("%w: %w", ErrAuthTokenInvalid, cause)
	}

	if endSession {
		c.endSession(ctx)
	}

	return fmt.Errorf("%w: %w", ErrSessionInvalid, cause)
}

// endSession drops the cached pair and runs global sign-out. Sign-out runs
// to completion even if the caller's context is already canceled.
func (c *Client) endSession(ctx context.Context) {
	c.Reset()

	if c.signOut == nil {
		return
	}

	if err := c.signOut.SignOut(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("sign-out incomplete", slog.String("error", err.Error()))
	}
}

// accessToken returns the access token to attach to a new request.
func (c *Client) accessToken(ctx context.Context) string {
	return c.currentTokens(ctx).Access
}

// currentTokens returns the cached pair, loading it from the store on
// first use.
func (c *Client) currentTokens(ctx context.Context) Tokens {
	c.mu.RLock()
	if c.loaded {
		t := c.tokens
		c.mu.RUnlock()

		return t
	}
	c.mu.RUnlock()

	loaded := Tokens{
		Access:  c.readStore(ctx, c.names.Access),
		Refresh: c.readStore(ctx, c.names.Refresh),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have loaded or refreshed meanwhile; it wins.
	if !c.loaded {
		c.tokens = loaded
		c.loaded = true
	}

	return c.tokens
}

// readStore reads one value. An unavailable store reads as absent, which
// forces re-authentication upstream.
func (c *Client) readStore(ctx context.Context, name string) string {
	v, found, err := c.store.Get(ctx, name)
	if err != nil {
		c.logger.Warn("credential store unavailable, treating as absent",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)

		return ""
	}

	if !found {
		return ""
	}

	return v
}

// Tokens returns the current token pair.
func (c *Client) Tokens(ctx context.Context) Tokens {
	return c.currentTokens(ctx)
}

// SetTokens stores a new pair and makes it current for every subsequent
// request. The cached pair is swapped even if the store write fails, so
// this process keeps working; the store error is returned.
func (c *Client) SetTokens(ctx context.Context, t Tokens) error {
	// Refresh first: anyone who can see the new access token in a shared
	// medium can also see the refresh token that belongs with it.
	var errs []error

	if err := c.store.Set(ctx, c.names.Refresh, t.Refresh, c.storeOpts); err != nil {
		errs = append(errs, err)
	}

	if err := c.store.Set(ctx, c.names.Access, t.Access, c.storeOpts); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.tokens = t
	c.loaded = true
	c.mu.Unlock()

	return errors.Join(errs...)
}

// ClearTokens removes both tokens from the store and the cache without
// notifying anyone.
func (c *Client) ClearTokens(ctx context.Context) error {
	c.Reset()

	return errors.Join(
		c.store.Clear(ctx, c.names.Access),
		c.store.Clear(ctx, c.names.Refresh),
	)
}

// Reset drops the cached pair so the next request reloads it from the store.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens = Tokens{}
	c.loaded = false
}

// readAPIError reads and closes an error response body and decodes the
// backend's {"code", "message"} payload when present.
func readAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Err:        classifyStatus(resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		apiErr.Message = "(failed to read response body)"
		return apiErr
	}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if json.Unmarshal(data, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		apiErr.Err = classifyAuthCode(apiErr.Code)
	}

	return apiErr
}
