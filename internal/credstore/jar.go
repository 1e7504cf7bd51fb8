package credstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// JarStore stores credentials as cookies for one origin inside an
// http.CookieJar, the way a browser's cookie storage holds them. The jar is
// a medium only: it must not be installed on the http.Client that talks to
// the backend, or the refresh token would ride along on every request.
type JarStore struct {
	jar    http.CookieJar
	origin *url.URL
	path   string
}

// NewJarStore returns a JarStore writing cookies for origin into jar. path
// is the cookie path credentials are written under; empty means DefaultPath.
func NewJarStore(jar http.CookieJar, origin, path string) (*JarStore, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("credstore: parsing origin %q: %w", origin, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("credstore: origin %q must be an absolute URL", origin)
	}

	path = cookiePath(path)

	// Lookups use the cookie path itself so the jar's path matching
	// returns what Set wrote.
	u = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}

	return &JarStore{jar: jar, origin: u, path: path}, nil
}

// Jar returns the underlying cookie jar.
func (j *JarStore) Jar() http.CookieJar {
	return j.jar
}

func (j *JarStore) Get(_ context.Context, name string) (string, bool, error) {
	for _, c := range j.jar.Cookies(j.origin) {
		if c.Name == name {
			return c.Value, true, nil
		}
	}

	return "", false, nil
}

// Set writes name under the store's path. opts.Path is ignored so Get and
// Clear always address the same cookie.
func (j *JarStore) Set(_ context.Context, name, value string, opts Options) error {
	opts.Path = j.path
	j.jar.SetCookies(j.origin, []*http.Cookie{newCookie(name, value, opts)})

	return nil
}

func (j *JarStore) Clear(_ context.Context, name string) error {
	j.jar.SetCookies(j.origin, []*http.Cookie{expiredCookie(name, j.path)})

	return nil
}

func cookiePath(path string) string {
	if path == "" {
		return DefaultPath
	}

	return path
}

// newCookie builds the cookie form of a credential.
func newCookie(name, value string, opts Options) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cookiePath(opts.Path),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	if opts.MaxAge > 0 {
		c.MaxAge = int(opts.MaxAge.Seconds())
	}

	return c
}

// expiredCookie builds a cookie that deletes name on receipt. Browsers and
// jars only match it against a cookie set with the same path.
func expiredCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   cookiePath(path),
		MaxAge: -1,
	}
}
