package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/config"
	"github.com/tonimelisma/authsession/internal/credstore"
	"github.com/tonimelisma/authsession/internal/session"
)

// defaultHTTPClient returns an HTTP client bounded by timeout, so a hung
// connection cannot block a command indefinitely.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// eventsPath is where the development backend serves its broadcast relay.
const eventsPath = "/events"

// CLISession holds the session stack for one CLI process: the credential
// store, the broadcast bus for the backend's origin, and the client and
// manager built on top of them.
type CLISession struct {
	Manager *session.Manager
	Client  *session.Client
	Bus     broadcast.Bus

	redis   *redis.Client
	hub     *broadcast.Hub
	closers []func() error
}

// NewCLISession builds the session stack described by cfg. The caller must
// Close it.
func NewCLISession(cc *CLIContext) (*CLISession, error) {
	cfg := cc.Cfg
	s := &CLISession{}

	httpClient := defaultHTTPClient(cfg.Server.TimeoutDuration())

	store, err := s.newStore(cfg)
	if err != nil {
		return nil, err
	}

	s.Bus = s.BusFor(cfg, cfg.Server.BaseURL, cc.Logger)

	names := credstore.Names{
		Access:  cfg.Credentials.AccessTokenName,
		Refresh: cfg.Credentials.RefreshTokenName,
	}

	signOut := session.NewGlobalSignOut(store, names, s.Bus, func(context.Context) {
		statusf(cc.Flags.Quiet, "Session ended. Run 'authsession login' to sign in again.\n")
	}, cc.Logger)

	s.Client = session.NewClient(session.Config{
		BaseURL:    cfg.Server.BaseURL,
		HTTPClient: httpClient,
		Store:      store,
		Names:      names,
		StoreOptions: credstore.Options{
			MaxAge: cfg.Credentials.MaxAgeDuration(),
			Path:   cfg.Credentials.Path,
		},
		Mode:           session.ModeInteractive,
		SignOut:        signOut,
		RefreshTimeout: cfg.Server.RefreshTimeoutDuration(),
		UserAgent:      userAgent(cfg),
		Logger:         cc.Logger,
	})

	s.Manager = session.NewManager(s.Client, signOut, s.Bus, cc.Logger)

	cc.Logger.Debug("session ready",
		slog.String("base_url", cfg.Server.BaseURL),
		slog.String("store", cfg.Credentials.Store),
		slog.String("bus", cfg.Broadcast.Bus),
	)

	return s, nil
}

// Close releases connections held by the store and bus.
func (s *CLISession) Close() error {
	var errs []error

	for _, c := range s.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}

func (s *CLISession) newStore(cfg *config.Config) (credstore.Store, error) {
	switch cfg.Credentials.Store {
	case config.StoreMemory:
		return credstore.NewMemoryStore(), nil
	case config.StoreFile:
		return credstore.NewFileStore(cfg.Credentials.File), nil
	case config.StoreRedis:
		return credstore.NewRedisStore(s.redisClient(cfg), cfg.Redis.Prefix), nil
	case config.StoreJar:
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}

		// The jar stays off the API client: the bearer header carries the
		// access token and the refresh token only goes to /refresh.
		store, err := credstore.NewJarStore(jar, cfg.Server.BaseURL, cfg.Credentials.Path)
		if err != nil {
			return nil, fmt.Errorf("creating jar store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.Credentials.Store)
	}
}

// BusFor returns a bus of the configured kind for origin. Buses for the
// same origin reach each other; the in-process hub is shared by every bus
// this session creates.
func (s *CLISession) BusFor(cfg *config.Config, origin string, logger *slog.Logger) broadcast.Bus {
	switch cfg.Broadcast.Bus {
	case config.BusFile:
		return broadcast.NewFileBus(cfg.Broadcast.Dir, origin, logger)
	case config.BusRedis:
		return broadcast.NewRedisBus(s.redisClient(cfg), cfg.Redis.Prefix, origin, logger)
	case config.BusWebSocket:
		return broadcast.NewWebSocketBus(eventsURL(cfg), origin, logger)
	default:
		// An in-process hub reaches nothing outside this process.
		if s.hub == nil {
			s.hub = broadcast.NewHub()
			s.closers = append(s.closers, func() error { s.hub.Close(); return nil })
		}

		return s.hub.Bus(origin)
	}
}

// redisClient returns the process's Redis client, creating it on first use
// so the store and the bus share one connection pool.
func (s *CLISession) redisClient(cfg *config.Config) redis.UniversalClient {
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		s.closers = append(s.closers, s.redis.Close)
	}

	return s.redis
}

// eventsURL is the configured relay URL, or the backend's own relay.
func eventsURL(cfg *config.Config) string {
	if cfg.Broadcast.WebSocketURL != "" {
		return cfg.Broadcast.WebSocketURL
	}

	return strings.TrimRight(cfg.Server.BaseURL, "/") + eventsPath
}

func userAgent(cfg *config.Config) string {
	if cfg.Server.UserAgent != "" {
		return cfg.Server.UserAgent
	}

	return "authsession/" + version
}
