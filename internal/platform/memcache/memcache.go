// Package memcache provides small in-process TTL caches used to mirror
// backing-store state per process. A cache is never the source of truth:
// a miss always falls through to the loader, and cross-process coherence
// is handled by the invalidation bus, not by these types.
package memcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Single caches one value with a TTL.
type Single[T any] struct {
	mu        sync.Mutex
	value     T
	populated bool
	fetchedAt time.Time
	ttl       time.Duration
	group     singleflight.Group
}

// NewSingle constructs a Single cache.
func NewSingle[T any](ttl time.Duration) *Single[T] {
	return &Single[T]{ttl: ttl}
}

// Get returns the cached value when present and fresh.
func (c *Single[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.populated || time.Since(c.fetchedAt) > c.ttl {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Set stores a value and resets its age.
func (c *Single[T]) Set(value T) {
	c.mu.Lock()
	c.value = value
	c.populated = true
	c.fetchedAt = time.Now()
	c.mu.Unlock()
}

// Clear drops the cached value.
func (c *Single[T]) Clear() {
	c.mu.Lock()
	c.populated = false
	var zero T
	c.value = zero
	c.mu.Unlock()
}

// Fetch returns the cached value, loading it on a miss. Concurrent misses
// share one loader call.
func (c *Single[T]) Fetch(ctx context.Context, loader func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	res, err, _ := c.group.Do("single", func() (any, error) {
		if v, ok := c.Get(); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Mutate applies fn to the cached value in place, when one is present.
// Used by invalidation-event handlers to patch an already-populated cache
// without forcing a refetch.
func (c *Single[T]) Mutate(fn func(T) T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.populated {
		return
	}
	c.value = fn(c.value)
}

type kvEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

// KV caches values per key with a TTL.
type KV[T any] struct {
	mu      sync.Mutex
	entries map[string]kvEntry[T]
	ttl     time.Duration
	group   singleflight.Group
}

// NewKV constructs a KV cache.
func NewKV[T any](ttl time.Duration) *KV[T] {
	return &KV[T]{entries: make(map[string]kvEntry[T]), ttl: ttl}
}

// Get returns the cached value for key when present and fresh.
func (c *KV[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) > c.ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value for key.
func (c *KV[T]) Set(key string, value T) {
	c.mu.Lock()
	c.entries[key] = kvEntry[T]{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// Delete drops the entry for key.
func (c *KV[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Fetch returns the cached value for key, loading it on a miss.
func (c *KV[T]) Fetch(ctx context.Context, key string, loader func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Mutate applies fn to the entry for key in place, when one is present.
// Entries for keys that were never cached stay absent; event handlers must
// not eagerly populate caches for users nobody asked about.
func (c *KV[T]) Mutate(key string, fn func(T) T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.value = fn(e.value)
	c.entries[key] = e
}
