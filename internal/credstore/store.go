// Package credstore reads and writes the session's access and refresh tokens
// as named values in a medium shared between the client and whatever carries
// them on further requests: a cookie jar, an inbound request's cookies, a
// file shared by concurrently running processes, or Redis.
//
// Stores never inspect token contents. Values are opaque strings.
package credstore

import (
	"context"
	"fmt"
	"time"
)

// Default value names, compatible with the web front end's cookie names.
const (
	AccessTokenName  = "nextauth.token"
	RefreshTokenName = "nextauth.refreshToken"
)

// DefaultMaxAge is the lifetime of a stored credential: 30 days.
const DefaultMaxAge = 30 * 24 * time.Hour

// DefaultPath scopes credentials to every path of the origin.
const DefaultPath = "/"

// Options control how a value is persisted. A zero MaxAge means the value
// does not expire on its own.
type Options struct {
	MaxAge time.Duration
	Path   string
}

// DefaultOptions returns the 30-day, root-path options used for both tokens.
func DefaultOptions() Options {
	return Options{MaxAge: DefaultMaxAge, Path: DefaultPath}
}

// Names are the two value names a session uses.
type Names struct {
	Access  string
	Refresh string
}

// DefaultNames returns the default access and refresh token names.
func DefaultNames() Names {
	return Names{Access: AccessTokenName, Refresh: RefreshTokenName}
}

// Store is a key/value credential medium.
//
// Get returns found=false with a nil error when the value is absent or
// expired. A non-nil error means the medium itself is unavailable; callers
// treat that as absent.
type Store interface {
	Get(ctx context.Context, name string) (value string, found bool, err error)
	Set(ctx context.Context, name, value string, opts Options) error
	Clear(ctx context.Context, name string) error
}

// StoreError records which operation on which value failed.
type StoreError struct {
	Op   string // "get", "set", "clear"
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credstore: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
