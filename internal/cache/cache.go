// Package cache is the short-lived response cache that sits in front of the
// transport. Entries are keyed by request fingerprint, expire lazily on read
// and are never persisted.
package cache

import (
	"sync"
	"time"
)

// Entry is one cached response.
type Entry struct {
	Body       []byte
	StatusCode int
	CreatedAt  time.Time
}

// Cache is safe for concurrent use. The last Store for a key wins.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates a cache whose entries live for ttl. ttl <= 0 disables caching:
// every Lookup misses.
func New(ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Enabled reports whether lookups can ever hit.
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Lookup returns the entry for fingerprint if it exists and has not expired.
// Expired entries are evicted here.
func (c *Cache) Lookup(fingerprint string) (Entry, bool) {
	if !c.Enabled() {
		return Entry{}, false
	}

	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	if c.expired(e) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Store may have replaced it.
		if cur, ok := c.entries[fingerprint]; ok && c.expired(cur) {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Store records a response for fingerprint, replacing any existing entry.
// A disabled cache keeps nothing.
func (c *Cache) Store(fingerprint string, body []byte, statusCode int) {
	if !c.Enabled() {
		return
	}
	cp := make([]byte, len(body))
	copy(cp, body)

	c.mu.Lock()
	c.entries[fingerprint] = Entry{
		Body:       cp,
		StatusCode: statusCode,
		CreatedAt:  c.now(),
	}
	c.mu.Unlock()
}

// Clear drops expired entries, or every entry when force is set.
func (c *Cache) Clear(force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if force {
		c.entries = make(map[string]Entry)
		return
	}
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.CreatedAt) >= c.ttl
}
