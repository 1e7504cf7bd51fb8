package credstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time // zero = no expiry
}

// MemoryStore keeps credentials in process memory. It is the medium for a
// single execution context that shares nothing with other processes.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is overridden by tests to exercise expiry.
	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok {
		return "", false, nil
	}

	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		return "", false, nil
	}

	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, name, value string, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if opts.MaxAge > 0 {
		e.expires = m.now().Add(opts.MaxAge)
	}

	m.entries[name] = e

	return nil
}

func (m *MemoryStore) Clear(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, name)

	return nil
}
