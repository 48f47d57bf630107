// Package vcache is a bounded TTL cache for embedding vectors. Expiry is
// lazy: entries are checked on read and write, no sweeper goroutine. When
// the cache is full, each insert evicts the single oldest entry.
package vcache

import (
	"sync"
	"time"
)

// DefaultMaxSize bounds the cache when no size is given.
const DefaultMaxSize = 1000

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	vector   []float64
	storedAt time.Time
}

// Cache maps text keys to embedding vectors with TTL and size bounds.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache. maxSize <= 0 falls back to DefaultMaxSize; ttl <= 0
// means entries never expire.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[string]entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached vector for key. Expired entries are removed and
// reported as misses.
func (c *Cache) Get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	out := make([]float64, len(e.vector))
	copy(out, e.vector)
	return out, true
}

// Put stores a copy of the vector. A full cache drops its oldest entry to
// make room; expired entries are purged first so they count as expiry, not
// eviction.
func (c *Cache) Put(key string, vector []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	v := make([]float64, len(vector))
	copy(v, vector)
	c.entries[key] = entry{vector: v, storedAt: c.now()}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl
}

// Len returns the number of live entries, counting expired ones until
// they are lazily purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Clear drops every entry, keeping the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
