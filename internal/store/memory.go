package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Entry is a single cached value together with its freshness window.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant after which the entry is stale.
func (e Entry[V]) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// Expired reports whether now is past the entry's freshness window.
func (e Entry[V]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"maxSize"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a concurrency-safe in-memory key/value store with per-entry TTL.
//
// Expired entries are treated as absent by Get but stay in the map until a
// Sweep or a capacity eviction removes them.
type Cache[V any] struct {
	mu sync.RWMutex

	entries map[string]Entry[V]
	clock   clockwork.Clock

	// maxEntries bounds the map size (0 = unlimited).
	maxEntries int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a Cache. A nil clock means wall-clock time.
// If maxEntries is <= 0, it is treated as unlimited.
func New[V any](maxEntries int, clock clockwork.Clock) *Cache[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[V]{
		entries:    make(map[string]Entry[V]),
		clock:      clock,
		maxEntries: maxEntries,
	}
}

// Get returns the entry for key if it is present and not expired, and
// counts the lookup as a hit or a miss.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	e, ok := c.Peek(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

// Peek is Get without touching the hit and miss counters.
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.Expired(now) {
		return Entry[V]{}, false
	}
	return e, true
}

// Put stores value under key, overwriting any previous entry.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) Entry[V] {
	e := Entry[V]{
		Key:       key,
		Value:     value,
		FetchedAt: c.clock.Now(),
		TTL:       ttl,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked(e.FetchedAt)
	}
	c.entries[key] = e
	return e
}

// makeRoomLocked drops expired entries and, if the map is still full, the
// entry closest to expiry.
func (c *Cache[V]) makeRoomLocked(now time.Time) {
	if c.sweepLocked(now) > 0 && len(c.entries) < c.maxEntries {
		return
	}

	var (
		victim    string
		victimExp time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.ExpiresAt().Before(victimExp) {
			victim, victimExp, found = k, e.ExpiresAt(), true
		}
	}
	if found {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Sweep physically removes expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sweepLocked(now)
}

func (c *Cache[V]) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.evictions.Add(uint64(removed))
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxEntries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
