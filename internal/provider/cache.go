package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/models"
	"optionflow/logger"
)

type cacheEntry struct {
	resp      models.QuoteResponse
	expiresAt time.Time
}

// ResponseCache is a TTL cache for quote responses, consulted before any
// token is spent. Entries expire after the configured TTL; a background
// sweep reclaims expired entries so the map does not grow across quiet
// instruments, and Get also drops expired entries lazily.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[models.InstrumentKey]cacheEntry

	ttl   time.Duration
	sweep time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	log *logger.Log
}

// NewResponseCache builds the cache from provider configuration.
func NewResponseCache(cfg appconfig.CacheConfig) *ResponseCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	return &ResponseCache{
		entries: make(map[models.InstrumentKey]cacheEntry),
		ttl:     ttl,
		sweep:   sweep,
		log:     logger.GetLogger(),
	}
}

// Get returns the cached response for key if it has not expired. Hits are
// re-stamped with the cache source so downstream consumers can tell a
// served-from-cache quote from a fresh one.
func (c *ResponseCache) Get(key models.InstrumentKey) (models.QuoteResponse, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		logger.IncrementCacheMiss()
		return models.QuoteResponse{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		logger.IncrementCacheMiss()
		return models.QuoteResponse{}, false
	}

	c.hits.Add(1)
	logger.IncrementCacheHit()
	resp := entry.resp
	resp.Source = models.SourceCache
	return resp, true
}

// Put stores a response under key for the configured TTL.
func (c *ResponseCache) Put(key models.InstrumentKey, resp models.QuoteResponse) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		resp:      resp,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of entries currently held, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit, miss and eviction counts.
func (c *ResponseCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// StartSweep runs periodic eviction of expired entries until ctx is
// canceled. Callers run it in its own goroutine.
func (c *ResponseCache) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.evictExpired(time.Now()); n > 0 {
				c.log.WithComponent("provider_cache").WithFields(logger.Fields{
					"evicted": n,
					"size":    c.Len(),
				}).Debug("cache sweep evicted expired entries")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *ResponseCache) evictExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
	}
	return evicted
}
