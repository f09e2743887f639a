package valcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvuslabs/corvus/internal/artifact"
	"github.com/corvuslabs/corvus/internal/domain"
)

// entryPrefix is the on-disk naming scheme for cache entries.
const entryPrefix = "validation_"

// EntryStatus marks whether the cached validation itself succeeded.
type EntryStatus string

const (
	// StatusOK marks a usable cached result.
	StatusOK EntryStatus = "ok"

	// StatusFailed marks a validation that errored; kept so operators can
	// inspect it, removed by CleanupFailedEntries to prevent pollution.
	StatusFailed EntryStatus = "failed"
)

// Entry is the persisted cache index record. The result payload lives in
// the artifact store; the entry carries only the reference.
type Entry struct {
	Key            Key                `json:"cache_key"`
	ArtifactRef    domain.ArtifactRef `json:"artifact_ref"`
	ProducingModel string             `json:"producing_model_id"`
	CreatedAt      time.Time          `json:"created_at"`
	Status         EntryStatus        `json:"status"`
}

// Manager owns CacheEntry writes. Writes to a given key are serialized by
// the caller (single writer per key); reads need no coordination because the
// referenced artifacts are immutable.
type Manager struct {
	dir    string
	store  artifact.Store
	stats  *stats
	logger *slog.Logger
}

// NewManager creates a cache manager over an entry directory and an
// artifact store.
func NewManager(dir string, store artifact.Store, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    dir,
		store:  store,
		stats:  &stats{},
		logger: logger.With("component", "valcache"),
	}, nil
}

// entryPath returns the entry file location for a key.
func (m *Manager) entryPath(k Key) string {
	return filepath.Join(m.dir, entryPrefix+k.Short()+".json")
}

// Check looks up a cached validation result. The second return value is the
// hit flag: false means the caller must perform the expensive validation and
// call Store with the outcome. Corruption anywhere (unreadable entry,
// key prefix collision, failed entry, missing artifact, undecodable payload)
// degrades silently to a miss and removes the bad entry, never an error.
func (m *Manager) Check(ctx context.Context, k Key) (domain.CoherenceResult, bool) {
	var zero domain.CoherenceResult

	raw, err := os.ReadFile(m.entryPath(k))
	if errors.Is(err, os.ErrNotExist) {
		m.stats.misses.Add(1)
		return zero, false
	}
	if err != nil {
		m.logger.Warn("cache entry unreadable, treating as miss", "key", k.Short(), "error", err)
		m.stats.errors.Add(1)
		m.stats.misses.Add(1)
		return zero, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Key != k || entry.Status != StatusOK {
		m.evictCorrupt(k, "entry corrupt or unusable")
		return zero, false
	}

	payload, err := m.store.Get(ctx, entry.ArtifactRef.Hash)
	if err != nil {
		// Self-healing: an entry pointing at a missing artifact is dropped
		// so the next validation repopulates both.
		m.evictCorrupt(k, "referenced artifact missing")
		return zero, false
	}

	var result domain.CoherenceResult
	if err := json.Unmarshal(payload, &result); err != nil {
		m.evictCorrupt(k, "artifact payload undecodable")
		return zero, false
	}

	m.stats.hits.Add(1)
	return result, true
}

// evictCorrupt removes a bad entry and records the degradation.
func (m *Manager) evictCorrupt(k Key, reason string) {
	m.logger.Warn("cache self-heal", "key", k.Short(), "reason", reason)
	_ = os.Remove(m.entryPath(k))
	m.stats.errors.Add(1)
	m.stats.misses.Add(1)
}

// Store serializes a validation result to the artifact store and writes the
// cache entry for it. The artifact write happens first so an entry never
// references bytes that were not durably stored.
func (m *Manager) Store(ctx context.Context, k Key, result domain.CoherenceResult, modelID string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize validation result: %w", err)
	}

	h, err := m.store.Put(ctx, payload)
	if err != nil {
		return fmt.Errorf("store validation artifact: %w", err)
	}

	entry := Entry{
		Key:            k,
		ArtifactRef:    artifact.Ref(h, len(payload), domain.ArtifactValidationResult),
		ProducingModel: modelID,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusOK,
	}
	return m.writeEntry(entry)
}

// StoreFailed records that validation for a key was attempted and failed,
// so operators can see it; failed entries are never served as hits.
func (m *Manager) StoreFailed(k Key, modelID string) error {
	entry := Entry{
		Key:            k,
		ProducingModel: modelID,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusFailed,
	}
	return m.writeEntry(entry)
}

// writeEntry persists an entry file atomically.
func (m *Manager) writeEntry(entry Entry) error {
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize cache entry: %w", err)
	}

	path := m.entryPath(entry.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// CleanupOldEntries removes entries older than maxAge and returns how many
// were removed.
func (m *Manager) CleanupOldEntries(maxAge time.Duration) (int, error) {
	return m.cleanup(func(e Entry) bool {
		return time.Since(e.CreatedAt) > maxAge
	})
}

// CleanupFailedEntries removes entries whose validation failed, preventing
// cache pollution from bad validations.
func (m *Manager) CleanupFailedEntries() (int, error) {
	return m.cleanup(func(e Entry) bool {
		return e.Status == StatusFailed
	})
}

// cleanup removes entries matching the predicate. Unparseable entry files
// are always removed.
func (m *Manager) cleanup(shouldRemove func(Entry) bool) (int, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, entryPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(m.dir, name)

		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || shouldRemove(entry) {
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("remove cache entry %s: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Entries returns all parseable cache entries, for operator reporting.
func (m *Manager) Entries() ([]Entry, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, entryPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
