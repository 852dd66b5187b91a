package wger

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// cacheEntry is a doubly-linked list node for the LRU cache.
type cacheEntry struct {
	key       uint64
	body      []byte
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// responseCache provides bounded LRU caching of upstream GET responses.
// Entries carry a fixed TTL; an expired entry is dropped on lookup, so stale
// exercise or equipment data never outlives the configured window.
type responseCache struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
	head    *cacheEntry // most recently used
	tail    *cacheEntry // least recently used
	maxSize int
	ttl     time.Duration
}

// newResponseCache creates an LRU cache with the given max size and TTL.
func newResponseCache(maxSize int, ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[uint64]*cacheEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// cacheKey hashes a request path and encoded query into one cache key.
// A zero byte separates the parts so "a"+"bc" and "ab"+"c" cannot collide.
func cacheKey(path, query string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(query)
	return h.Sum64()
}

// Get retrieves a cached response body. Returns (body, true) on a fresh hit,
// promoting the entry to most recently used. Expired entries are removed and
// reported as misses.
func (c *responseCache) Get(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.unlinkLocked(e)
		delete(c.entries, key)
		return nil, false
	}
	c.moveToHeadLocked(e)

	// Copy so callers can't mutate the cached body.
	body := make([]byte, len(e.body))
	copy(body, e.body)
	return body, true
}

// Put stores a response body. If at capacity, the least recently used entry
// is evicted.
func (c *responseCache) Put(key uint64, body []byte) {
	stored := make([]byte, len(body))
	copy(stored, body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.body = stored
		e.expiresAt = time.Now().Add(c.ttl)
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &cacheEntry{key: key, body: stored, expiresAt: time.Now().Add(c.ttl)}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called after writes so listings reflect new data
// immediately instead of waiting out the TTL.
func (c *responseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *responseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *responseCache) moveToHeadLocked(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *responseCache) pushHeadLocked(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *responseCache) unlinkLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *responseCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
