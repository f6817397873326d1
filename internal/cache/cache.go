package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
)

// Cache is the interface forecast cache backends implement.
// Get returns the cached series if present and not expired, Set stores a series with TTL.
type Cache interface {
	Get(ctx context.Context, key Key) (models.ForecastSeries, bool, error)
	Set(ctx context.Context, key Key, series models.ForecastSeries, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[Key]cacheEntry
}

// cacheEntry stores a forecast series with its insertion time.
type cacheEntry struct {
	series   models.ForecastSeries
	storedAt time.Time
	ttl      time.Duration
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[Key]cacheEntry),
	}
}

// Get retrieves the cached series for key if present and younger than its TTL.
// Returns (series, true, nil) on hit, (zero, false, nil) on miss or expiration.
// Expired entries are deleted so the store does not grow unboundedly in a
// long-running process.
func (c *InMemoryCache) Get(ctx context.Context, key Key) (models.ForecastSeries, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ForecastSeries{}, false, nil
	}

	if time.Since(entry.storedAt) >= entry.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.data[key]; ok && time.Since(cur.storedAt) >= cur.ttl {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.ForecastSeries{}, false, nil
	}

	return entry.series, true, nil
}

// Set stores a series under key with a fresh timestamp, overwriting any prior entry.
func (c *InMemoryCache) Set(ctx context.Context, key Key, series models.ForecastSeries, ttl time.Duration) error {
	c.mu.Lock()
	c.data[key] = cacheEntry{
		series:   series,
		storedAt: time.Now(),
		ttl:      ttl,
	}
	c.mu.Unlock()
	return nil
}
