package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvuslabs/corvus/internal/artifact"
	"github.com/corvuslabs/corvus/internal/audit"
	"github.com/corvuslabs/corvus/internal/domain"
	"github.com/corvuslabs/corvus/internal/valcache"
)

var (
	cacheStats         bool
	cacheEfficiency    bool
	cacheCleanup       bool
	cacheCleanupFailed bool
	cacheMaxAgeHours   int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the validation cache",
	Long: `Operate on the coherence-validation cache.

  --stats           entry inventory and lifetime hit/miss counters
  --efficiency      hit-rate band (High/Medium/Low) over the audit trail
  --cleanup         remove entries older than --max-age-hours
  --cleanup-failed  remove entries whose validation failed`,
	RunE: runCache,
}

func init() {
	cacheCmd.Flags().BoolVar(&cacheStats, "stats", false, "show cache statistics")
	cacheCmd.Flags().BoolVar(&cacheEfficiency, "efficiency", false, "show the cache efficiency band")
	cacheCmd.Flags().BoolVar(&cacheCleanup, "cleanup", false, "remove entries older than --max-age-hours")
	cacheCmd.Flags().BoolVar(&cacheCleanupFailed, "cleanup-failed", false, "remove failed entries")
	cacheCmd.Flags().IntVar(&cacheMaxAgeHours, "max-age-hours", 0, "age bound for --cleanup (default from config)")
}

func runCache(cmd *cobra.Command, args []string) error {
	if !cacheStats && !cacheEfficiency && !cacheCleanup && !cacheCleanupFailed {
		return fmt.Errorf("nothing to do: pass --stats, --efficiency, --cleanup, or --cleanup-failed")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	artifacts, err := artifact.NewFSStore(cfg.Data.ArtifactsDir())
	if err != nil {
		return err
	}
	manager, err := valcache.NewManager(cfg.Data.CacheDir(), artifacts, slog.Default())
	if err != nil {
		return err
	}

	if cacheCleanup {
		hours := cacheMaxAgeHours
		if hours <= 0 {
			hours = cfg.Run.CacheMaxAgeHours
		}
		removed, err := manager.CleanupOldEntries(time.Duration(hours) * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d entries older than %dh\n", removed, hours)
	}

	if cacheCleanupFailed {
		removed, err := manager.CleanupFailedEntries()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d failed entries\n", removed)
	}

	if cacheStats || cacheEfficiency {
		hits, misses, err := auditCacheCounts(cfg.Data.AuditPath())
		if err != nil {
			return err
		}
		var hitRate float64
		if total := hits + misses; total > 0 {
			hitRate = float64(hits) / float64(total)
		}

		if cacheStats {
			entries, err := manager.Entries()
			if err != nil {
				return err
			}
			ok, failed := 0, 0
			var oldest time.Time
			for _, e := range entries {
				if e.Status == valcache.StatusOK {
					ok++
				} else {
					failed++
				}
				if oldest.IsZero() || e.CreatedAt.Before(oldest) {
					oldest = e.CreatedAt
				}
			}
			fmt.Printf("entries:  %d (%d ok, %d failed)\n", len(entries), ok, failed)
			if !oldest.IsZero() {
				fmt.Printf("oldest:   %s ago\n", time.Since(oldest).Round(time.Hour))
			}
			fmt.Printf("lookups:  %d hits, %d misses (%.0f%% hit rate)\n", hits, misses, hitRate*100)
		}

		if cacheEfficiency {
			band := valcache.EfficiencyLow
			switch {
			case hitRate >= cfg.Run.CacheHighThreshold:
				band = valcache.EfficiencyHigh
			case hitRate >= cfg.Run.CacheMediumThreshold:
				band = valcache.EfficiencyMedium
			}
			fmt.Printf("efficiency: %s (%.0f%% hit rate over %d lookups)\n", band, hitRate*100, hits+misses)
		}
	}

	return nil
}

// auditCacheCounts tallies validation-cache lookups across all runs from the
// audit trail, the durable record of every lookup.
func auditCacheCounts(path string) (hits, misses int64, err error) {
	trail, err := audit.Open(path, slog.Default())
	if err != nil {
		return 0, 0, err
	}
	defer trail.Close()

	events, err := trail.Events("")
	if err != nil {
		return 0, 0, err
	}
	for _, e := range events {
		switch e.Type {
		case domain.EventCacheHit:
			hits++
		case domain.EventCacheMiss:
			misses++
		}
	}
	return hits, misses, nil
}
