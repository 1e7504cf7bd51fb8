package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// refreshPath is the backend endpoint that exchanges a refresh token for a
// new pair.
const refreshPath = "/refresh"

// refreshOutcome is what a pending request receives when the in-flight
// refresh settles: the new access token, or the reason it failed.
type refreshOutcome struct {
	token string
	err   error
}

// pendingRequest is a request that hit an expired token while a refresh was
// already running. The goroutine that queued it keeps the request descriptor
// and replays it once the outcome arrives.
type pendingRequest struct {
	done chan refreshOutcome
}

// coordinator serializes token refreshes for one Client. At most one refresh
// call is in flight; requests that fail with an expired token meanwhile
// queue up and settle, in arrival order, only after that call settles.
type coordinator struct {
	client *Client

	mu         sync.Mutex
	refreshing bool
	queue      []*pendingRequest
}

// handle recovers a request that was rejected with an expired token. sent
// is the access token the rejected attempt carried. The caller that finds no
// refresh running performs it; everyone else waits for its outcome. Waiting
// is not cancellable: a queued request always settles with the refresh.
func (co *coordinator) handle(ctx context.Context, req *request, sent string) (*http.Response, error) {
	co.mu.Lock()

	if co.refreshing {
		p := &pendingRequest{done: make(chan refreshOutcome, 1)}
		co.queue = append(co.queue, p)
		co.mu.Unlock()

		out := <-p.done
		if out.err != nil {
			return nil, co.client.fail(ctx, out.err, false)
		}

		return co.client.replay(ctx, req, out.token)
	}

	// A 401 that arrives after its token was already replaced belongs to a
	// cycle that has settled. Replay with the current token, or report the
	// ended session, without refreshing again.
	if current := co.client.accessToken(ctx); current != sent {
		co.mu.Unlock()

		if current == "" {
			return nil, co.client.fail(ctx, ErrNotSignedIn, false)
		}

		co.client.logger.Debug("token already refreshed, replaying",
			slog.String("method", req.method),
			slog.String("path", req.path),
		)

		return co.client.replay(ctx, req, current)
	}

	co.refreshing = true
	co.mu.Unlock()

	token, err := co.refresh(ctx)
	if err != nil {
		// Only the initiator signs out, so sign-out runs once per failed
		// refresh however many requests were waiting. The gate stays closed
		// until it is done.
		failure := co.client.fail(ctx, err, true)
		co.settle(refreshOutcome{err: err})

		return nil, failure
	}

	co.settle(refreshOutcome{token: token})

	return co.client.replay(ctx, req, token)
}

// settle ends the refresh cycle: the queue is drained and the gate reopened
// in one critical section, then every waiter receives the outcome in FIFO
// order.
func (co *coordinator) settle(out refreshOutcome) {
	co.mu.Lock()
	waiters := co.queue
	co.queue = nil
	co.refreshing = false
	co.mu.Unlock()

	for _, p := range waiters {
		p.done <- out
	}

	if len(waiters) > 0 {
		co.client.logger.Debug("pending requests released",
			slog.Int("count", len(waiters)),
			slog.Bool("refreshed", out.err == nil),
		)
	}
}

// pending reports how many requests are waiting on the current refresh.
func (co *coordinator) pending() int {
	co.mu.Lock()
	defer co.mu.Unlock()

	return len(co.queue)
}

// refresh performs the single refresh call and installs the new pair. It
// runs detached from the initiator's cancellation so that one caller giving
// up does not fail every queued request; the refresh timeout bounds it.
func (co *coordinator) refresh(ctx context.Context) (string, error) {
	c := co.client

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	refreshToken := c.readStore(ctx, c.names.Refresh)
	if refreshToken == "" {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNotSignedIn)
	}

	start := time.Now()

	var pair struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}

	in := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}

	if err := c.postUnauthenticated(ctx, refreshPath, in, &pair); err != nil {
		c.logger.Warn("token refresh failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)

		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if pair.Token == "" || pair.RefreshToken == "" {
		return "", fmt.Errorf("%w: response is missing a token", ErrRefreshFailed)
	}

	if err := c.SetTokens(ctx, Tokens{Access: pair.Token, Refresh: pair.RefreshToken}); err != nil {
		// The new pair is already current in memory; only other holders of
		// the medium miss it.
		c.logger.Warn("storing refreshed tokens failed", slog.String("error", err.Error()))
	}

	c.logger.Info("token refreshed", slog.Duration("elapsed", time.Since(start)))

	return pair.Token, nil
}

// postUnauthenticated posts a JSON body without a bearer token and decodes a
// 2xx JSON response. It never enters the refresh path, so a rejected call
// cannot trigger another refresh.
func (c *Client) postUnauthenticated(ctx context.Context, path string, in, out any) error {
	req, err := newJSONRequest(http.MethodPost, path, in)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, req, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}

	return decodeJSON(resp, out)
}
