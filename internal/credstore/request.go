package credstore

import (
	"context"
	"net/http"
	"sync"
)

// RequestStore is the medium of a server-side rendering context: it reads
// credentials from the cookies of one inbound request and writes changes
// back as Set-Cookie headers on that request's response. Values written
// during the request shadow the inbound cookies for subsequent reads.
//
// A RequestStore belongs to exactly one inbound request and must not be
// shared across requests.
type RequestStore struct {
	r    *http.Request
	w    http.ResponseWriter
	path string

	mu      sync.Mutex
	written map[string]*string // nil value = cleared during this request
}

// NewRequestStore returns a RequestStore bound to one request/response pair.
// path is the cookie path the credentials live under; empty means
// DefaultPath. Clear expires cookies at that path.
func NewRequestStore(w http.ResponseWriter, r *http.Request, path string) *RequestStore {
	return &RequestStore{
		r:       r,
		w:       w,
		path:    cookiePath(path),
		written: make(map[string]*string),
	}
}

func (s *RequestStore) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.written[name]; ok {
		if v == nil {
			return "", false, nil
		}

		return *v, true, nil
	}

	c, err := s.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false, nil //nolint:nilerr // http.ErrNoCookie means absent
	}

	return c.Value, true, nil
}

func (s *RequestStore) Set(_ context.Context, name, value string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	http.SetCookie(s.w, newCookie(name, value, opts))

	v := value
	s.written[name] = &v

	return nil
}

func (s *RequestStore) Clear(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	http.SetCookie(s.w, expiredCookie(name, s.path))
	s.written[name] = nil

	return nil
}
