// Package cache provides the answer cache for the query pipeline.
//
// Entries expire a fixed TTL after insertion. Reads refresh LRU
// recency but never the expiry, so a popular stale answer still falls
// out on schedule.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 256

// DefaultTTL is how long an answer stays valid after insertion.
const DefaultTTL = time.Hour

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe LRU with per-entry insertion-time TTL.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, entry[V]]
	ttl time.Duration

	hits   uint64
	misses uint64

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// New creates a cache with the given capacity and TTL. Non-positive
// values fall back to the defaults.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// simplelru only errors on non-positive size, which is handled above.
	lru, _ := simplelru.NewLRU[string, entry[V]](capacity, nil)
	return &Cache[V]{
		lru: lru,
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached value for key. Expired entries are removed
// and reported as misses. A hit moves the entry to most recently used
// without extending its lifetime.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Put stores value under key with a fresh TTL, evicting the least
// recently used entry when the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Len returns the number of entries, counting expired ones that have
// not been touched since they lapsed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge discards all entries but keeps the hit/miss counters.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats reports the hit/miss counters since startup.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Key derives a stable cache key from the question and the retrieval
// options that shape the answer. The question is normalized so trivial
// whitespace and case differences share an entry.
func Key(question string, topK int, rerank bool) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%t", normalized, topK, rerank)))
	return hex.EncodeToString(sum[:])
}
