package broadcast

import (
	"context"
	"sync"
)

// Hub is an in-process broadcast medium. Buses obtained from the same Hub
// for the same origin see each other's signals; different origins are
// isolated.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{} // origin -> subscribers
	closed bool
}

type memorySub struct {
	sender string
	ch     chan Message
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*memorySub]struct{})}
}

// Bus returns a new Bus for origin backed by this Hub.
func (h *Hub) Bus(origin string) Bus {
	return &memoryBus{hub: h, origin: origin, sender: newSenderID()}
}

// Subscribers returns how many subscriptions are open for origin.
func (h *Hub) Subscribers(origin string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[origin])
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for _, subs := range h.subs {
		for s := range subs {
			close(s.ch)
		}
	}

	h.subs = nil
}

func (h *Hub) publish(origin, sender string, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	for s := range h.subs[origin] {
		if s.sender == sender {
			continue
		}

		select {
		case s.ch <- msg:
		default: // subscriber is behind; the pending signal has the same effect
		}
	}

	return nil
}

func (h *Hub) subscribe(ctx context.Context, origin, sender string) (<-chan Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	s := &memorySub{sender: sender, ch: make(chan Message, subscriberBuffer)}

	if h.subs[origin] == nil {
		h.subs[origin] = make(map[*memorySub]struct{})
	}

	h.subs[origin][s] = struct{}{}

	go func() {
		<-ctx.Done()
		h.unsubscribe(origin, s)
	}()

	return s.ch, nil
}

func (h *Hub) unsubscribe(origin string, s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	if _, ok := h.subs[origin][s]; !ok {
		return
	}

	delete(h.subs[origin], s)
	close(s.ch)
}

type memoryBus struct {
	hub    *Hub
	origin string
	sender string
}

func (b *memoryBus) Publish(_ context.Context, msg Message) error {
	return b.hub.publish(b.origin, b.sender, msg)
}

func (b *memoryBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	return b.hub.subscribe(ctx, b.origin, b.sender)
}
