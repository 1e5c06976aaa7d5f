package licenseserver

import (
	"sync"
	"time"
)

// boolEntry represents a cached boolean status result
type boolEntry struct {
	Value     bool
	CachedAt  time.Time
	ExpiresAt time.Time
	HitCount  int
}

// StatusCache caches per-SKU license status booleans with a TTL. The cache
// is advisory: a forced status check bypasses it and rewrites the entry with
// the new authoritative result.
type StatusCache struct {
	entries   map[string]boolEntry
	mutex     sync.RWMutex
	ttl       time.Duration
	hitCount  int64
	missCount int64
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewStatusCache creates a status cache with the given freshness window.
func NewStatusCache(ttl time.Duration) *StatusCache {
	cache := &StatusCache{
		entries:  make(map[string]boolEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Key returns the cache key for a SKU's status entry.
func Key(sku string) string {
	return sku + "_status"
}

// Get retrieves a fresh cached status. Expired entries count as misses but
// stay in place until cleanup so GetStale can still read them.
func (c *StatusCache) Get(key string) (bool, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		c.missCount++
		return false, false
	}

	entry.HitCount++
	c.entries[key] = entry
	c.hitCount++

	return entry.Value, true
}

// GetStale retrieves the last written status regardless of freshness. Used
// when an ambiguous authority response should preserve the previous value
// rather than guess.
func (c *StatusCache) GetStale(key string) (bool, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return false, false
	}
	return entry.Value, true
}

// Set stores a status result with the cache's TTL.
func (c *StatusCache) Set(key string, value bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = boolEntry{
		Value:     value,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes an entry from the cache.
func (c *StatusCache) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// Stats returns cache statistics.
func (c *StatusCache) Stats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

// Stop gracefully stops the cache cleanup goroutine.
func (c *StatusCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *StatusCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.ExpiresAt) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopChan:
			return
		}
	}
}
