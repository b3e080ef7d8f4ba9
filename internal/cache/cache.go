// Package cache provides a fixed-capacity, TTL-aware key/value store.
//
// Two unrelated consumers share this one contract: the dispatcher's
// read-through cache of completed transactions (keyed by tx hash) and the
// threshold monitor's per-token alert cooldown gate (keyed by token
// address). Reads are non-mutating: an entry whose TTL has elapsed is
// reported absent but stays in the map until the periodic sweep or an
// eviction removes it.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a bounded map with per-entry TTL and oldest-insertion eviction.
// All operations are safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]entry[V]
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int) *Cache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[V]{
		capacity: capacity,
		entries:  make(map[string]entry[V], capacity),
	}
}

// Get returns the value for key. It reports absent both when the key is
// unknown and when the stored entry's TTL has elapsed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.insertedAt) > e.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// InsertedAt returns when the entry for key was stored, regardless of
// whether its TTL has elapsed. The cooldown gate reads this to decide if
// enough time has passed since the last alert.
func (c *Cache[V]) InsertedAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.insertedAt, true
}

// Set stores value under key with the given TTL. Inserting a new key when
// the cache is full first evicts the entry with the oldest insertion
// timestamp; ties break by key ordering so eviction is deterministic.
// Setting an existing key overwrites it and refreshes its timestamp.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{value: value, insertedAt: time.Now(), ttl: ttl}
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all entries whose TTL has elapsed and returns how many
// were purged.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for key, e := range c.entries {
		if time.Since(e.insertedAt) > e.ttl {
			delete(c.entries, key)
			purged++
		}
	}
	return purged
}

// Run sweeps expired entries on the given interval until ctx is cancelled.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.insertedAt.Before(oldestAt) ||
			(e.insertedAt.Equal(oldestAt) && key < oldestKey) {
			oldestKey = key
			oldestAt = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
