// Package optimistic implements the snapshot / apply / restore protocol used
// for cached server state that is mutated before the server confirms.
package optimistic

import (
	"context"
	"sync"
)

// Cache holds the last value fetched from the server plus any optimistic edits
// applied on top of it. Every change bumps a version; a rollback only lands if
// the version it targets is still current, so a slow failing mutation cannot
// clobber state written after it.
type Cache[T any] struct {
	mu      sync.RWMutex
	value   T
	loaded  bool
	stale   bool
	version uint64
	clone   func(T) T
}

// NewCache constructor. clone must deep-copy a value; it is used on every read
// and snapshot so callers never alias cached state.
func NewCache[T any](clone func(T) T) *Cache[T] {
	return &Cache[T]{clone: clone}
}

// Snapshot is a restorable copy of the cache.
type Snapshot[T any] struct {
	value  T
	loaded bool
	stale  bool
}

// Value returns the snapshotted value.
func (s Snapshot[T]) Value() T { return s.value }

// Get returns a copy of the cached value and whether anything was ever loaded.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clone(c.value), c.loaded
}

// Fresh reports whether the cache holds a loaded value that is not invalidated.
func (c *Cache[T]) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded && !c.stale
}

// Version returns the current change counter.
func (c *Cache[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Set stores a value fetched from the server.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = c.clone(v)
	c.loaded = true
	c.stale = false
	c.version++
}

// CompareAndSet stores a fetched value only if the cache is still at version,
// i.e. no edit landed while the fetch was in flight. Otherwise the cache is
// left stale so the next read fetches again.
func (c *Cache[T]) CompareAndSet(v T, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		c.stale = true
		return false
	}
	c.value = c.clone(v)
	c.loaded = true
	c.stale = false
	c.version++
	return true
}

// Invalidate marks the value stale. The last-good value stays readable until
// a refetch replaces it.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// Reset forgets everything, e.g. when the owning user logs out.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.loaded = false
	c.stale = false
	c.version++
}

// Snapshot captures the current state for a later Restore.
func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot[T]{value: c.clone(c.value), loaded: c.loaded, stale: c.stale}
}

// Apply edits the cached value in place and returns the version the edit produced.
func (c *Cache[T]) Apply(fn func(T) T) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = fn(c.clone(c.value))
	c.version++
	return c.version
}

// Restore puts s back if the cache is still at version applied, i.e. nothing
// else changed it after the edit that produced applied. It reports whether the
// snapshot was restored.
func (c *Cache[T]) Restore(s Snapshot[T], applied uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != applied {
		return false
	}
	c.value = c.clone(s.value)
	c.loaded = s.loaded
	c.stale = s.stale
	c.version++
	return true
}

// Mutate runs one optimistic mutation: snapshot, apply, call the server, and
// restore the snapshot if the call fails. The call's error is returned as is.
// Reconciling with the server afterwards is the caller's job.
func Mutate[T any](ctx context.Context, c *Cache[T], apply func(T) T, call func(ctx context.Context) error) error {
	snap := c.Snapshot()
	applied := c.Apply(apply)
	if err := call(ctx); err != nil {
		c.Restore(snap, applied)
		return err
	}
	return nil
}
