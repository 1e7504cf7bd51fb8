// Package session issues requests against the backend API on behalf of a
// signed-in user. It attaches the current access token to every request,
// refreshes the token pair exactly once when concurrent requests find it
// expired, replays those requests with the new token, and ends the session
// when the failure cannot be recovered by refreshing.
package session

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeTokenExpired is the 401 payload code that marks an expired access
// token. Any other 401 is unrecoverable by refreshing.
const CodeTokenExpired = "token.expired"

// Sentinel errors. Use errors.Is to check.
var (
	// ErrSessionInvalid: the session ended in an interactive context. Sign-out
	// has already run by the time the caller sees it, including for requests
	// that were queued behind the failed refresh.
	ErrSessionInvalid = errors.New("session: session invalid")

	// ErrAuthTokenInvalid: the session cannot continue in a rendering context.
	// Nothing was signed out; the caller must redirect to the entry point.
	ErrAuthTokenInvalid = errors.New("session: auth token invalid")

	// ErrRefreshFailed: the refresh call itself failed.
	ErrRefreshFailed = errors.New("session: token refresh failed")

	ErrNotSignedIn  = errors.New("session: not signed in")
	ErrTokenExpired = errors.New("session: access token expired")
	ErrUnauthorized = errors.New("session: unauthorized")
	ErrBadRequest   = errors.New("session: bad request")
	ErrForbidden    = errors.New("session: forbidden")
	ErrNotFound     = errors.New("session: not found")
	ErrConflict     = errors.New("session: conflict")
	ErrThrottled    = errors.New("session: throttled")
	ErrServerError  = errors.New("session: server error")
)

// APIError is a non-2xx backend response: status, the machine-readable
// code and message from the payload, and a sentinel for errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Err        error // sentinel
}

func (e *APIError) Error() string {
	detail := e.Message
	if e.Code != "" {
		detail = e.Code + ": " + e.Message
	}

	if e.RequestID != "" {
		return fmt.Sprintf("session: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, detail)
	}

	return fmt.Sprintf("session: HTTP %d: %s", e.StatusCode, detail)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for codes with no sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// classifyAuthCode maps a 401 payload code to its sentinel.
func classifyAuthCode(code string) error {
	if code == CodeTokenExpired {
		return ErrTokenExpired
	}

	return ErrUnauthorized
}
