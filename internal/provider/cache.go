package provider

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// responseCache short-circuits identical recent requests. Entries expire after
// the TTL; when the cache is full the oldest entry is evicted.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	raw      json.RawMessage
	storedAt time.Time
}

func newResponseCache(ttl time.Duration, max int) *responseCache {
	if max <= 0 {
		max = 128
	}
	return &responseCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(prompt string, opts Options) string {
	return fmt.Sprintf("%s|%s|%s|%d", prompt, opts.Model, opts.Size, opts.N)
}

func (c *responseCache) get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.raw, true
}

func (c *responseCache) put(key string, raw json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{raw: raw, storedAt: c.now()}
}

func (c *responseCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
