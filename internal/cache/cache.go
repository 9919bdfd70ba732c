// Package cache provides the Analysis Cache: a bounded, thread-safe
// TTL+LRU cache of Scorer results keyed by symbol (spec §4.4).
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/marcusvale/equityscore/pkg/types"
)

// entry is the value stored in the LRU list; it wraps a types.CacheEntry
// with its position in the eviction list.
type entry struct {
	key        string
	value      types.ScoreResult
	insertedAt time.Time
}

// Cache is a bounded, mutex-guarded TTL+LRU cache of ScoreResult. All
// mutating operations are serialized; readers observe a consistent
// (value, insertedAt) snapshot, never a torn write.
//
// Grounded directly in spec §4.4/§8 invariants 5-6 — no teacher file
// implements a request-level cache, so the structure follows the
// mutex-guarded-map idiom used elsewhere in this codebase
// (internal/backtester's Portfolio, the Provider's FileStore).
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

// New constructs a Cache from the given config. A non-positive capacity
// or TTL falls back to the spec defaults (2000 entries, 1200s).
func New(cfg types.CacheConfig) *Cache {
	capacity := cfg.MaxSize
	if capacity <= 0 {
		capacity = 2000
	}
	ttl := cfg.TTLSeconds
	if ttl <= 0 {
		ttl = 1200 * time.Second
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached ScoreResult for symbol if present and not
// expired. An expired entry is treated as absent and is evicted lazily.
func (c *Cache) Get(symbol string) (types.ScoreResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[symbol]
	if !ok {
		return types.ScoreResult{}, false
	}
	e := el.Value.(*entry)
	if time.Since(e.insertedAt) > c.ttl {
		c.removeElement(el)
		return types.ScoreResult{}, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set inserts or replaces the cached value for symbol, marking it most
// recently used. If inserting pushes the cache above capacity, the
// least-recently-used entry is evicted.
func (c *Cache) Set(symbol string, value types.ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[symbol]; ok {
		el.Value.(*entry).value = value
		el.Value.(*entry).insertedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: symbol, value: value, insertedAt: time.Now()})
	c.items[symbol] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// Delete evicts symbol's cached entry, if any.
func (c *Cache) Delete(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[symbol]; ok {
		c.removeElement(el)
	}
}

// Len returns the current number of entries, including any that are
// expired but not yet lazily evicted. Never exceeds configured capacity
// (spec §8 invariant 6).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Snapshot returns the CacheEntry view of every live (non-expired) entry,
// most-recently-used first. Intended for diagnostics/health endpoints.
func (c *Cache) Snapshot() []types.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.CacheEntry, 0, c.order.Len())
	now := time.Now()
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if now.Sub(e.insertedAt) > c.ttl {
			continue
		}
		out = append(out, types.CacheEntry{Key: e.key, Value: e.value, InsertedAt: e.insertedAt})
	}
	return out
}
