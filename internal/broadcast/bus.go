// Package broadcast carries session lifecycle signals between every open
// session of the same origin: other CLI processes, other browser tabs behind
// the gateway, other hosts sharing Redis. The only message the session core
// sends is SignOut, which tells every listener to drop its session and
// return to the unauthenticated entry point.
//
// A Bus never delivers a message back to the Bus value that published it,
// matching the semantics of a browser BroadcastChannel.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Message is a cross-session signal.
type Message string

// SignOut asks every session of the origin to end.
const SignOut Message = "signOut"

// subscriberBuffer bounds how many undelivered signals a slow subscriber
// may accumulate before newer ones are dropped.
const subscriberBuffer = 16

// ErrClosed is returned by operations on a closed bus or hub.
var ErrClosed = errors.New("broadcast: closed")

// Bus publishes and receives signals for one origin.
type Bus interface {
	// Publish sends msg to every other session of the origin.
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns a channel of signals published by other sessions.
	// The channel is closed when ctx is canceled or the transport fails.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// UserOrigin scopes origin to one user. A multi-user server publishes on
// the user's scope so a signal never reaches another user's sessions.
func UserOrigin(origin, user string) string {
	return origin + "#user=" + url.QueryEscape(user)
}

// envelope is the wire format shared by the file, Redis and websocket buses.
type envelope struct {
	ID      string  `json:"id"`
	Origin  string  `json:"origin"`
	Sender  string  `json:"sender"`
	Message Message `json:"message"`
}

func newEnvelope(origin, sender string, msg Message) envelope {
	return envelope{
		ID:      uuid.NewString(),
		Origin:  origin,
		Sender:  sender,
		Message: msg,
	}
}

func encodeEnvelope(e envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encoding message: %w", err)
	}

	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("broadcast: decoding message: %w", err)
	}

	return e, nil
}

// newSenderID returns a unique identity for one Bus value.
func newSenderID() string {
	return uuid.NewString()
}
