// Package identity holds the signed-in user's identity attributes shared by
// the session client and the development backend. It is a leaf package.
package identity

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity is the user attached to a session: an email address plus the
// permission and role strings the backend granted.
type Identity struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

// NormalizeEmail trims, NFC-normalizes and case-folds an email address so
// that lookups match regardless of how the user typed it.
// A cases.Caser is stateful, so one is built per call.
func NormalizeEmail(email string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(email)))
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}

	return &Identity{
		Email:       id.Email,
		Permissions: slices.Clone(id.Permissions),
		Roles:       slices.Clone(id.Roles),
	}
}
