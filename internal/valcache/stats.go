package valcache

import "sync/atomic"

// stats provides thread-safe cache counters using atomic operations.
type stats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Efficiency bands for the operator-facing classification. Advisory only,
// never correctness-critical; thresholds are tunable via config.
const (
	EfficiencyHigh   = "High"
	EfficiencyMedium = "Medium"
	EfficiencyLow    = "Low"

	// DefaultHighThreshold and DefaultMediumThreshold are the hit-ratio
	// boundaries between bands.
	DefaultHighThreshold   = 0.7
	DefaultMediumThreshold = 0.4
)

// Stats is a snapshot of cache performance counters.
type Stats struct {
	// Hits is the total number of cache hits.
	Hits int64 `json:"hits"`
	// Misses is the total number of cache misses, including corrupt entries
	// degraded to misses.
	Misses int64 `json:"misses"`
	// Errors counts corruption events that were self-healed.
	Errors int64 `json:"errors"`
	// HitRate is the ratio of hits to total lookups.
	HitRate float64 `json:"hit_rate"`
	// Efficiency is the heuristic band the hit rate falls in.
	Efficiency string `json:"efficiency"`
}

// Stats returns the current counters with the default efficiency bands.
func (m *Manager) Stats() Stats {
	return m.StatsWithBands(DefaultHighThreshold, DefaultMediumThreshold)
}

// StatsWithBands returns the current counters classified against custom
// hit-ratio thresholds.
func (m *Manager) StatsWithBands(high, medium float64) Stats {
	hits := m.stats.hits.Load()
	misses := m.stats.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	efficiency := EfficiencyLow
	switch {
	case hitRate >= high:
		efficiency = EfficiencyHigh
	case hitRate >= medium:
		efficiency = EfficiencyMedium
	}

	return Stats{
		Hits:       hits,
		Misses:     misses,
		Errors:     m.stats.errors.Load(),
		HitRate:    hitRate,
		Efficiency: efficiency,
	}
}
