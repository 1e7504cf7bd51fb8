// Package gateway is a small server-side rendering front end. Each inbound
// request gets its own rendering-mode session client built over the
// visitor's cookies, so a token refresh during rendering lands back in the
// visitor's browser, and an unrecoverable session sends the visitor to the
// entry page instead of signing anyone out.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/authsession/internal/broadcast"
	"github.com/tonimelisma/authsession/internal/credstore"
	"github.com/tonimelisma/authsession/internal/identity"
	"github.com/tonimelisma/authsession/internal/session"
)

// DashboardPath is where signed-in visitors land.
const DashboardPath = "/dashboard"

// Config configures a Server.
type Config struct {
	// Session is the template for every per-request client. Store, Mode
	// and SignOut are replaced per request.
	Session   session.Config
	EntryPath string

	// BusFor returns the sign-out bus for an origin. Logout publishes on the
	// visitor's own scope, broadcast.UserOrigin(BaseURL, email), so other
	// visitors are never signed out. May be nil.
	BusFor func(origin string) broadcast.Bus
	Logger *slog.Logger
}

// Server renders pages on behalf of visitors.
type Server struct {
	session   session.Config
	names     credstore.Names
	entryPath string
	busFor    func(origin string) broadcast.Bus
	logger    *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.EntryPath == "" {
		cfg.EntryPath = "/"
	}

	names := cfg.Session.Names
	if names == (credstore.Names{}) {
		names = credstore.DefaultNames()
	}

	return &Server{
		session:   cfg.Session,
		names:     names,
		entryPath: cfg.EntryPath,
		busFor:    cfg.BusFor,
		logger:    cfg.Logger,
	}
}

// Handler returns the HTTP handler for every page.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+DashboardPath, s.withAuth(s.renderDashboard))
	mux.HandleFunc("GET "+exactPattern(s.entryPath), s.withGuest(s.renderEntry))
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	return mux
}

// exactPattern matches path only, not the subtree below it.
func exactPattern(path string) string {
	if strings.HasSuffix(path, "/") {
		return path + "{$}"
	}

	return path
}

// page renders one response using a client bound to the inbound request.
type page func(w http.ResponseWriter, r *http.Request, c *session.Client) error

// withAuth serves pages that need a session. Visitors without one, or
// whose session cannot be recovered, are sent to the entry page with their
// credentials cleared.
func (s *Server) withAuth(render page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.hasSession(r) {
			http.Redirect(w, r, s.entryPath, http.StatusFound)
			return
		}

		c := session.NewRequestClient(w, r, s.session)

		err := render(w, r, c)
		if err == nil {
			return
		}

		if errors.Is(err, session.ErrAuthTokenInvalid) {
			s.logger.Info("session not recoverable, redirecting to entry",
				slog.String("path", r.URL.Path),
			)

			_ = c.ClearTokens(r.Context())

			http.Redirect(w, r, s.entryPath, http.StatusFound)

			return
		}

		s.logger.Error("rendering failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
	}
}

// withGuest serves pages for visitors without a session; signed-in visitors
// go to the dashboard.
func (s *Server) withGuest(render page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.hasSession(r) {
			http.Redirect(w, r, DashboardPath, http.StatusFound)
			return
		}

		if err := render(w, r, nil); err != nil {
			s.logger.Error("rendering failed", slog.String("error", err.Error()))
			http.Error(w, "rendering failed", http.StatusInternalServerError)
		}
	}
}

func (s *Server) hasSession(r *http.Request) bool {
	c, err := r.Cookie(s.names.Access)
	return err == nil && c.Value != ""
}

type dashboardPage struct {
	User  *identity.Identity  `json:"user"`
	Users []identity.Identity `json:"users,omitempty"`
}

func (s *Server) renderDashboard(w http.ResponseWriter, r *http.Request, c *session.Client) error {
	me, err := c.Me(r.Context())
	if err != nil {
		return err
	}

	out := dashboardPage{User: me}

	var users struct {
		Users []identity.Identity `json:"users"`
	}

	// The user list is optional: a forbidden or missing listing still
	// renders the dashboard.
	switch err := c.DoJSON(r.Context(), http.MethodGet, "/users", nil, &users); {
	case err == nil:
		out.Users = users.Users
	case errors.Is(err, session.ErrAuthTokenInvalid):
		return err
	default:
		s.logger.Debug("user list unavailable", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, out)

	return nil
}

type entryPage struct {
	Authenticated bool   `json:"authenticated"`
	Login         string `json:"login"`
}

func (s *Server) renderEntry(w http.ResponseWriter, _ *http.Request, _ *session.Client) error {
	writeJSON(w, http.StatusOK, entryPage{Login: "/login"})
	return nil
}

// handleLogin signs the visitor in from a form post and stores the pair
// in their cookies.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	c := session.NewRequestClient(w, r, s.session)

	if _, err := c.SignIn(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password")); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			http.Redirect(w, r, s.entryPath+"?error=credentials", http.StatusFound)
			return
		}

		s.logger.Error("sign-in failed", slog.String("error", err.Error()))
		http.Error(w, "sign-in failed", http.StatusBadGateway)

		return
	}

	http.Redirect(w, r, DashboardPath, http.StatusFound)
}

// handleLogout clears the visitor's cookies, tells the visitor's other
// sessions, and returns to the entry page. The visitor's identity picks the
// broadcast scope; when it cannot be established nothing is broadcast.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg := s.session
	cfg.Store = credstore.NewRequestStore(w, r, cfg.StoreOptions.Path)
	cfg.Mode = session.ModeRendering
	cfg.SignOut = nil

	var bus broadcast.Bus

	if s.busFor != nil && s.hasSession(r) {
		me, err := session.NewClient(cfg).Me(ctx)
		if err == nil {
			bus = s.busFor(broadcast.UserOrigin(cfg.BaseURL, me.Email))
		} else {
			s.logger.Info("visitor unknown, sign-out not broadcast", slog.String("error", err.Error()))
		}
	}

	signOut := session.NewGlobalSignOut(cfg.Store, s.names, bus, func(context.Context) {
		http.Redirect(w, r, s.entryPath, http.StatusFound)
	}, s.logger)

	if err := signOut.SignOut(ctx); err != nil {
		s.logger.Warn("sign-out incomplete", slog.String("error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
