package storage

import (
	"sync"
	"time"
)

type cacheEntry struct {
	url      string
	expires  time.Time
	lastUsed time.Time
}

// URLCache is an explicit key -> (url, expiry) cache for presigned GET URLs.
// Entries use a local expiry shorter than the provider's, so a hit is always
// still usable. When occupancy exceeds maxSize, expired entries are dropped
// first, then the least recently used ones.
type URLCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time // replaceable in tests
}

// NewURLCache creates a URLCache with the given local TTL and size bound.
func NewURLCache(ttl time.Duration, maxSize int) *URLCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &URLCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached URL for key if present and not past its local expiry.
func (c *URLCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	e.lastUsed = c.now()
	return e.url, true
}

// Put stores url under key with the cache's local TTL, evicting if needed.
func (c *URLCache) Put(key, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &cacheEntry{url: url, expires: now.Add(c.ttl), lastUsed: now}

	if len(c.entries) > c.maxSize {
		c.evictLocked()
	}
}

// Len returns the current number of entries.
func (c *URLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then least recently used ones until the
// cache is back under its bound. Caller must hold c.mu.
func (c *URLCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.lastUsed.Before(oldest) {
				oldestKey = k
				oldest = e.lastUsed
			}
		}
		delete(c.entries, oldestKey)
	}
}
