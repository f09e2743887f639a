// Package artifact provides immutable, content-addressed blob storage.
// Artifacts are addressed by the sha256 of their bytes; the store is
// append-only and offers no update or delete operation.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corvuslabs/corvus/internal/domain"
)

// Store errors.
var (
	// ErrNotFound is returned when no artifact exists for the given hash.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidHash is returned for hashes that are not hex sha256 digests.
	ErrInvalidHash = errors.New("invalid artifact hash")
)

// Store provides content-addressed storage and retrieval for pipeline
// results. Put is idempotent: identical bytes never produce a duplicate
// write and always return the same hash. Writes are durable before Put
// returns; reads require no locking because artifacts never change.
type Store interface {
	// Put stores bytes and returns their content hash.
	Put(ctx context.Context, b []byte) (domain.Hash, error)

	// Get retrieves stored bytes by content hash.
	// Returns ErrNotFound for missing hashes.
	Get(ctx context.Context, h domain.Hash) ([]byte, error)

	// Exists checks artifact presence without content retrieval.
	Exists(ctx context.Context, h domain.Hash) (bool, error)

	// List returns the hashes currently in the store whose hex form starts
	// with prefix. An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]domain.Hash, error)
}

// FSStore stores artifacts as files under a namespace directory, fanned out
// by the first two hex characters of the hash. Writes go through a temp file
// and rename so a crash never leaves a partial artifact under its final name.
type FSStore struct {
	root string
	mu   sync.Mutex // serializes concurrent Puts of the same new hash
}

// NewFSStore creates a filesystem-backed store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// path returns the final on-disk location for a hash.
func (s *FSStore) path(h domain.Hash) string {
	return filepath.Join(s.root, string(h[:2]), string(h))
}

// Put stores bytes durably and returns their content hash. When the hash is
// already present the existing file is left untouched.
func (s *FSStore) Put(ctx context.Context, b []byte) (domain.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	h := domain.ContentHash(b)
	final := s.path(h)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(final); err == nil {
		return h, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	// Durable before Put returns.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return h, nil
}

// Get retrieves stored bytes by content hash.
func (s *FSStore) Get(ctx context.Context, h domain.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}

	b, err := os.ReadFile(s.path(h))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return b, nil
}

// Exists checks artifact presence without reading content.
func (s *FSStore) Exists(ctx context.Context, h domain.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !h.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}
	_, err := os.Stat(s.path(h))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return true, nil
}

// List returns the hashes in the store matching a hex prefix, sorted.
func (s *FSStore) List(ctx context.Context, prefix string) ([]domain.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hashes []domain.Hash
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}
	for _, fan := range entries {
		if !fan.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, fan.Name()))
		if err != nil {
			return nil, fmt.Errorf("read artifact fanout: %w", err)
		}
		for _, f := range files {
			h := domain.Hash(f.Name())
			if !h.Valid() {
				continue
			}
			if prefix == "" || strings.HasPrefix(string(h), prefix) {
				hashes = append(hashes, h)
			}
		}
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes, nil
}

// Ref builds an ArtifactRef for bytes already stored under hash h.
func Ref(h domain.Hash, size int, kind domain.ArtifactKind) domain.ArtifactRef {
	return domain.ArtifactRef{
		Hash:      h,
		Size:      int64(size),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// InMemoryStore provides in-memory artifact storage for tests and
// development. Production deployments use FSStore or blob storage.
type InMemoryStore struct {
	mu      sync.RWMutex
	storage map[domain.Hash][]byte
}

// NewInMemoryStore creates an in-memory artifact storage instance.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{storage: make(map[domain.Hash][]byte)}
}

// Put stores bytes in memory and returns their content hash.
func (s *InMemoryStore) Put(_ context.Context, b []byte) (domain.Hash, error) {
	h := domain.ContentHash(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.storage[h]; !ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		s.storage[h] = cp
	}
	return h, nil
}

// Get retrieves stored bytes by content hash.
func (s *InMemoryStore) Get(_ context.Context, h domain.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.storage[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.Short())
	}
	return b, nil
}

// Exists checks artifact presence in memory storage.
func (s *InMemoryStore) Exists(_ context.Context, h domain.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.storage[h]
	return ok, nil
}

// List returns stored hashes matching a hex prefix, sorted.
func (s *InMemoryStore) List(_ context.Context, prefix string) ([]domain.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes []domain.Hash
	for h := range s.storage {
		if prefix == "" || strings.HasPrefix(string(h), prefix) {
			hashes = append(hashes, h)
		}
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes, nil
}

// Delete removes an artifact from the in-memory store. It exists only to
// simulate corruption in tests; FSStore deliberately has no counterpart.
func (s *InMemoryStore) Delete(h domain.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, h)
}
