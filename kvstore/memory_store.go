package kvstore

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory. It is what tests use and what the
// client falls back to when no durable storage is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewMemoryStore constructor
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]string)}
}

// Initialize does nothing in this implementation.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.store[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store[key] = value
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.store, key)
	return nil
}

// Ping is a health check that always returns true.
func (m *MemoryStore) Ping(ctx context.Context) bool {
	return true
}

// NoopStore is the fallback for contexts with no storage at all: writes vanish
// and every read misses.
type NoopStore struct{}

func (NoopStore) Initialize(context.Context) error                 { return nil }
func (NoopStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (NoopStore) Set(context.Context, string, string) error         { return nil }
func (NoopStore) Remove(context.Context, string) error              { return nil }
func (NoopStore) Ping(context.Context) bool                         { return true }
