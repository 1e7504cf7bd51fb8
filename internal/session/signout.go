package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/credstore"
)

// GlobalSignOut ends the session for every holder of the credential medium:
// it clears both tokens, tells the other sessions of the origin, and
// returns this session to the unauthenticated entry point.
type GlobalSignOut struct {
	store    credstore.Store
	names    credstore.Names
	bus      broadcast.Bus
	navigate func(ctx context.Context)
	logger   *slog.Logger
}

// NewGlobalSignOut creates a GlobalSignOut. bus and navigate may be nil.
func NewGlobalSignOut(
	store credstore.Store, names credstore.Names, bus broadcast.Bus,
	navigate func(ctx context.Context), logger *slog.Logger,
) *GlobalSignOut {
	if logger == nil {
		logger = slog.Default()
	}

	if names == (credstore.Names{}) {
		names = credstore.DefaultNames()
	}

	return &GlobalSignOut{
		store:    store,
		names:    names,
		bus:      bus,
		navigate: navigate,
		logger:   logger,
	}
}

// SignOut runs every step even when an earlier one fails, so a broken
// medium never leaves other sessions signed in. It is safe to call with no
// session; the returned error joins the failures of each medium.
func (s *GlobalSignOut) SignOut(ctx context.Context) error {
	var errs []error

	if err := s.store.Clear(ctx, s.names.Access); err != nil {
		errs = append(errs, err)
	}

	if err := s.store.Clear(ctx, s.names.Refresh); err != nil {
		errs = append(errs, err)
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, broadcast.SignOut); err != nil {
			errs = append(errs, fmt.Errorf("session: notifying other sessions: %w", err))
		}
	}

	if s.navigate != nil {
		s.navigate(ctx)
	}

	if len(errs) > 0 {
		s.logger.Warn("sign-out finished with errors", slog.Int("errors", len(errs)))
		return errors.Join(errs...)
	}

	s.logger.Info("signed out")

	return nil
}
