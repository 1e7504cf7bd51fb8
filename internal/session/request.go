package session

import (
	"net/http"

	"github.com/tonimelisma/authsession/internal/credstore"
)

// NewRequestClient returns a rendering-mode client for one inbound request.
// Credentials come from the request's cookies and any change is written to
// w as Set-Cookie headers. cfg.Store, cfg.Mode and cfg.SignOut are ignored.
// The client must not outlive the request.
func NewRequestClient(w http.ResponseWriter, r *http.Request, cfg Config) *Client {
	cfg.Store = credstore.NewRequestStore(w, r, cfg.StoreOptions.Path)
	cfg.Mode = ModeRendering
	cfg.SignOut = nil

	return NewClient(cfg)
}
