package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/identity"
)

// errSubscriptionEnded is returned by Listen when the bus stops delivering
// before the context is canceled.
var errSubscriptionEnded = errors.New("session: broadcast subscription ended")

// Manager is the interactive session as seen by the application: who is
// signed in, how to sign in and out, and reacting when another session of
// the same origin signs out.
type Manager struct {
	client  *Client
	signOut SignOuter
	bus     broadcast.Bus
	logger  *slog.Logger

	mu   sync.RWMutex
	user *identity.Identity
}

// NewManager creates a Manager over an interactive client. signOut runs for
// explicit sign-out and for failed rehydration; bus may be nil.
func NewManager(client *Client, signOut SignOuter, bus broadcast.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:  client,
		signOut: signOut,
		bus:     bus,
		logger:  logger,
	}
}

// Client returns the session client requests go through.
func (m *Manager) Client() *Client {
	return m.client
}

// SignIn authenticates and records the returned identity.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	id, err := m.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	m.setUser(id)
	m.logger.Info("signed in", slog.String("email", id.Email))

	return id.Clone(), nil
}

// Load restores the identity of an existing session from its stored access
// token. Any failure ends the session; the error wraps ErrNotSignedIn.
func (m *Manager) Load(ctx context.Context) (*identity.Identity, error) {
	if m.client.Tokens(ctx).Access == "" {
		return nil, ErrNotSignedIn
	}

	id, err := m.client.Me(ctx)
	if err != nil {
		// ErrSessionInvalid means sign-out already ran inside the client.
		if !errors.Is(err, ErrSessionInvalid) {
			m.runSignOut(ctx)
		}

		return nil, fmt.Errorf("%w: %w", ErrNotSignedIn, err)
	}

	m.setUser(id)

	return id.Clone(), nil
}

// SignOut ends the session everywhere.
func (m *Manager) SignOut(ctx context.Context) error {
	m.setUser(nil)
	m.client.Reset()

	if m.signOut == nil {
		return m.client.ClearTokens(ctx)
	}

	return m.signOut.SignOut(ctx)
}

// User returns the signed-in identity, or nil.
func (m *Manager) User() *identity.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.user.Clone()
}

// IsAuthenticated reports whether an identity is recorded.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.user != nil
}

// Listen blocks, handling signals from other sessions of the origin until
// ctx is canceled. On SignOut the in-memory session is dropped and
// onSignOut, when non-nil, is called. Credentials are not cleared again:
// the session that signed out already did that.
func (m *Manager) Listen(ctx context.Context, onSignOut func()) error {
	if m.bus == nil {
		<-ctx.Done()
		return nil
	}

	msgs, err := m.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("session: subscribing to sign-out signals: %w", err)
	}

	for msg := range msgs {
		if msg != broadcast.SignOut {
			m.logger.Debug("ignoring unknown signal", slog.String("message", string(msg)))
			continue
		}

		m.logger.Info("signed out by another session")
		m.setUser(nil)
		m.client.Reset()

		if onSignOut != nil {
			onSignOut()
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	return errSubscriptionEnded
}

func (m *Manager) runSignOut(ctx context.Context) {
	m.setUser(nil)
	m.client.Reset()

	if m.signOut == nil {
		return
	}

	if err := m.signOut.SignOut(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("sign-out incomplete", slog.String("error", err.Error()))
	}
}

func (m *Manager) setUser(id *identity.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user = id.Clone()
}
