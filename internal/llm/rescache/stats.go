package rescache

import "sync/atomic"

// cacheStats tracks cache activity with atomic counters.
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats is a point-in-time snapshot of response cache activity.
type Stats struct {
	// Hits counts requests served from cache.
	Hits int64 `json:"hits"`
	// Misses counts requests that went to the provider.
	Misses int64 `json:"misses"`
	// Errors counts cache operation failures and evictions.
	Errors int64 `json:"errors"`
	// HitRate is Hits over total lookups, zero when no lookups occurred.
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Errors:  c.stats.errors.Load(),
		HitRate: hitRate,
	}
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool { return c.enabled }
