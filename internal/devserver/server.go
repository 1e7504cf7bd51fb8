// Package devserver is a development backend speaking the session API:
// sign-in, identity, rotating refresh tokens, a sample protected resource,
// and the websocket relay for cross-session signals. Access tokens are
// short-lived JWTs so the refresh path is exercised constantly.
package devserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/identity"
)

// signingKeyBytes is the size of a generated HS256 key.
const signingKeyBytes = 32

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Config configures a Server.
type Config struct {
	Database   string
	SigningKey []byte // empty: a random key valid until the process exits
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Seed user, created or updated on start when SeedEmail is set.
	SeedEmail       string
	SeedPassword    string
	SeedPermissions []string
	SeedRoles       []string

	Clock func() time.Time // nil: time.Now
}

// Default seed grants, matching the sample dashboard.
var (
	DefaultSeedPermissions = []string{"users.list", "users.create", "metrics.list"}
	DefaultSeedRoles       = []string{"administrator"}
)

// Server implements the backend endpoints.
type Server struct {
	store      *store
	tokens     *tokenIssuer
	refreshTTL time.Duration
	relay      *broadcast.Relay
	logger     *slog.Logger
	now        func() time.Time
}

// New opens the database, applies migrations and seeds the configured user.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key := cfg.SigningKey
	if len(key) == 0 {
		key = make([]byte, signingKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("devserver: generating signing key: %w", err)
		}

		logger.Warn("no signing key configured, tokens will not survive a restart")
	}

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Server{
		store:      st,
		refreshTTL: cfg.RefreshTTL,
		relay:      broadcast.NewRelay(logger),
		logger:     logger,
		now:        cfg.Clock,
	}

	s.tokens = &tokenIssuer{key: key, ttl: cfg.AccessTTL, now: cfg.Clock}

	if cfg.SeedEmail != "" {
		if err := s.seed(ctx, cfg); err != nil {
			st.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) seed(ctx context.Context, cfg Config) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("devserver: hashing seed password: %w", err)
	}

	perms := cfg.SeedPermissions
	if perms == nil {
		perms = DefaultSeedPermissions
	}

	roles := cfg.SeedRoles
	if roles == nil {
		roles = DefaultSeedRoles
	}

	u := &userRecord{
		Identity: identity.Identity{
			Email:       identity.NormalizeEmail(cfg.SeedEmail),
			Permissions: perms,
			Roles:       roles,
		},
		PasswordHash: string(hash),
	}

	if err := s.store.upsertUser(ctx, u, s.now()); err != nil {
		return err
	}

	s.logger.Info("seed user ready", slog.String("email", u.Email))

	return nil
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.handleSessions)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /me", s.authenticated(s.handleMe))
	mux.HandleFunc("GET /users", s.authenticated(s.handleUsers))
	mux.Handle("GET /events", s.relay)

	return withRequestID(mux)
}

// withRequestID echoes the caller's X-Request-Id, or assigns one, so both
// sides can correlate log lines.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// Prune deletes used and expired refresh tokens.
func (s *Server) Prune(ctx context.Context) error {
	n, err := s.store.pruneRefreshTokens(ctx, s.now())
	if err != nil {
		return err
	}

	s.logger.Debug("pruned refresh tokens", slog.Int64("count", n))

	return nil
}

// Close disconnects websocket listeners and closes the database.
func (s *Server) Close() error {
	s.relay.Close()
	return s.store.Close()
}

type sessionsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionsResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	Permissions  []string `json:"permissions"`
	Roles        []string `json:"roles"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	var in sessionsRequest
	if !decodeBody(w, r, &in) {
		return
	}

	email := identity.NormalizeEmail(in.Email)

	u, err := s.store.findUser(r.Context(), email)
	if err != nil && !errors.Is(err, errUserNotFound) {
		s.internalError(w, err)
		return
	}

	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		s.logger.Info("sign-in rejected", slog.String("email", email))
		writeError(w, http.StatusUnauthorized, codeCredentialsInvalid, "E-mail or password incorrect.")

		return
	}

	access, err := s.tokens.issue(&u.Identity)
	if err != nil {
		s.internalError(w, err)
		return
	}

	refresh, err := s.store.issueRefreshToken(r.Context(), email, s.now().Add(s.refreshTTL))
	if err != nil {
		s.internalError(w, err)
		return
	}

	s.logger.Info("signed in", slog.String("email", email))

	writeJSON(w, http.StatusOK, sessionsResponse{
		Token:        access,
		RefreshToken: refresh,
		Permissions:  nonNil(u.Permissions),
		Roles:        nonNil(u.Roles),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if !decodeBody(w, r, &in) {
		return
	}

	if in.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, codeTokenInvalid, "Refresh token is required.")
		return
	}

	now := s.now()

	email, next, err := s.store.rotateRefreshToken(r.Context(), in.RefreshToken, now, now.Add(s.refreshTTL))
	if errors.Is(err, errRefreshTokenInvalid) {
		writeError(w, http.StatusUnauthorized, codeTokenInvalid, "Refresh token is invalid.")
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	u, err := s.store.findUser(r.Context(), email)
	if errors.Is(err, errUserNotFound) {
		writeError(w, http.StatusUnauthorized, codeTokenInvalid, "User not found.")
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	access, err := s.tokens.issue(&u.Identity)
	if err != nil {
		s.internalError(w, err)
		return
	}

	s.logger.Debug("token pair rotated", slog.String("email", email))

	writeJSON(w, http.StatusOK, refreshResponse{Token: access, RefreshToken: next})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id *identity.Identity) {
	// Grants come from the database so changes apply without re-signing in.
	u, err := s.store.findUser(r.Context(), id.Email)
	if errors.Is(err, errUserNotFound) {
		writeError(w, http.StatusUnauthorized, codeTokenInvalid, "User not found.")
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identity.Identity{
		Email:       u.Email,
		Permissions: nonNil(u.Permissions),
		Roles:       nonNil(u.Roles),
	})
}

type usersResponse struct {
	Users []identity.Identity `json:"users"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ *identity.Identity) {
	users, err := s.store.listUsers(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	out := usersResponse{Users: make([]identity.Identity, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, identity.Identity{
			Email:       u.Email,
			Permissions: nonNil(u.Permissions),
			Roles:       nonNil(u.Roles),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// authenticated wraps a handler that requires a valid access token.
func (s *Server) authenticated(
	next func(http.ResponseWriter, *http.Request, *identity.Identity),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, codeTokenInvalid, "Token not present.")
			return
		}

		id, err := s.tokens.verify(raw)
		if errors.Is(err, errTokenExpired) {
			writeError(w, http.StatusUnauthorized, codeTokenExpired, "Token expired.")
			return
		}

		if err != nil {
			s.logger.Debug("access token rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, codeTokenInvalid, "Invalid token.")

			return
		}

		next(w, r, id)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
}

// decodeBody decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid", err.Error())
		return false
	}

	return true
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: true, Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
