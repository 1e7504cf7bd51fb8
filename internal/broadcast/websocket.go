package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// readyMessage is sent by the relay once a subscriber is registered, so a
// subscription never misses a signal published right after it returns.
const readyMessage Message = "ready"

// relayWriteTimeout bounds how long the relay waits on one slow listener.
const relayWriteTimeout = 5 * time.Second

// WebSocketBus carries signals through a Relay reachable over websocket,
// typically the development backend's /events endpoint.
type WebSocketBus struct {
	url    string
	origin string
	sender string
	logger *slog.Logger
}

// NewWebSocketBus returns a bus that talks to the relay at eventsURL
// (ws:// or wss://) for origin.
func NewWebSocketBus(eventsURL, origin string, logger *slog.Logger) *WebSocketBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocketBus{
		url:    eventsURL,
		origin: origin,
		sender: newSenderID(),
		logger: logger,
	}
}

func (b *WebSocketBus) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(b.url)
	if err != nil {
		return nil, fmt.Errorf("broadcast: parsing relay URL %q: %w", b.url, err)
	}

	q := u.Query()
	q.Set("origin", b.origin)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("broadcast: dialing relay: %w", err)
	}

	return conn, nil
}

func (b *WebSocketBus) Publish(ctx context.Context, msg Message) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	// Consume the ready frame so the relay has registered us before we send.
	var ready envelope
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		return fmt.Errorf("broadcast: waiting for relay: %w", err)
	}

	if err := wsjson.Write(ctx, conn, newEnvelope(b.origin, b.sender, msg)); err != nil {
		return fmt.Errorf("broadcast: sending signal: %w", err)
	}

	// The signal is already on the wire; a failed close handshake loses nothing.
	_ = conn.Close(websocket.StatusNormalClosure, "")

	return nil
}

func (b *WebSocketBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	var ready envelope
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("broadcast: waiting for relay: %w", err)
	}

	out := make(chan Message, subscriberBuffer)

	go func() {
		defer close(out)
		defer conn.CloseNow()

		for {
			var env envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("relay connection lost", slog.String("error", err.Error()))
				}

				return
			}

			if env.Sender == b.sender || env.Message == readyMessage {
				continue
			}

			select {
			case out <- env.Message:
			default:
			}
		}
	}()

	return out, nil
}

// Relay is the server side of WebSocketBus: an http.Handler that forwards
// every signal it receives to all other connections of the same origin.
type Relay struct {
	mu     sync.Mutex
	conns  map[string]map[*websocket.Conn]struct{}
	closed bool
	logger *slog.Logger
}

// NewRelay returns an empty Relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		conns:  make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	origin := req.URL.Query().Get("origin")
	if origin == "" {
		http.Error(w, "missing origin", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	if !r.add(origin, conn) {
		conn.Close(websocket.StatusGoingAway, "relay closed")
		return
	}
	defer r.remove(origin, conn)

	ctx := req.Context()

	if err := wsjson.Write(ctx, conn, envelope{Origin: origin, Message: readyMessage}); err != nil {
		return
	}

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}

		env.Origin = origin
		r.relay(origin, conn, env)
	}
}

// Close disconnects every listener.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true

	var all []*websocket.Conn

	for _, conns := range r.conns {
		for c := range conns {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	// Outside the lock: each handler removes itself as its read fails.
	for _, c := range all {
		c.CloseNow()
	}
}

func (r *Relay) add(origin string, conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.conns[origin] == nil {
		r.conns[origin] = make(map[*websocket.Conn]struct{})
	}

	r.conns[origin][conn] = struct{}{}

	return true
}

func (r *Relay) remove(origin string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns[origin], conn)
}

func (r *Relay) relay(origin string, from *websocket.Conn, env envelope) {
	r.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(r.conns[origin]))

	for c := range r.conns[origin] {
		if c != from {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	r.logger.Debug("relaying signal",
		slog.String("origin", origin),
		slog.String("message", string(env.Message)),
		slog.Int("listeners", len(targets)),
	)

	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), relayWriteTimeout)
		if err := wsjson.Write(ctx, c, env); err != nil {
			r.logger.Warn("relay write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}
