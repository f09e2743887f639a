// Package registry is the authoritative store for framework versions and
// the transaction manager that validates framework references against it.
// The database is the single source of truth for execution; local working
// copies are advisory only.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corvuslabs/corvus/internal/domain"
)

// Registry errors.
var (
	// ErrNotRegistered is returned when a framework has no registry rows.
	ErrNotRegistered = errors.New("framework not registered")

	// ErrVersionCollision is returned when version minting could not find a
	// free version number within the retry budget.
	ErrVersionCollision = errors.New("framework version collision")
)

// Store wraps the sqlite registry database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens the registry database at path, creating parent directories and
// applying migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.conn.Close() }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// migrate creates the registry schema. Strictly increasing versions per name
// and at-most-one row per (name, content_hash) are enforced by the schema
// itself, not by application discipline.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS framework_versions (
			name         TEXT    NOT NULL,
			version      INTEGER NOT NULL CHECK (version >= 1),
			content_hash TEXT    NOT NULL,
			status       TEXT    NOT NULL DEFAULT 'active',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (name, version),
			UNIQUE (name, content_hash)
		)
	`)
	if err != nil {
		return fmt.Errorf("create framework_versions table: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanVersion reads one framework_versions row.
func scanVersion(row *sql.Row) (domain.FrameworkVersion, error) {
	var fv domain.FrameworkVersion
	var hash string
	var created time.Time
	err := row.Scan(&fv.Name, &fv.Version, &hash, &fv.Status, &created)
	if err != nil {
		return domain.FrameworkVersion{}, err
	}
	fv.ContentHash = domain.Hash(hash)
	fv.CreatedAt = created
	return fv, nil
}

// latest fetches the highest-numbered row for a name.
func latest(ctx context.Context, q querier, name string) (domain.FrameworkVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT name, version, content_hash, status, created_at
		FROM framework_versions WHERE name = ?
		ORDER BY version DESC LIMIT 1`, name)
	fv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FrameworkVersion{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if err != nil {
		return domain.FrameworkVersion{}, fmt.Errorf("fetch latest version for %s: %w", name, err)
	}
	return fv, nil
}

// byContentHash fetches the row matching (name, content_hash), if any.
func byContentHash(ctx context.Context, q querier, name string, h domain.Hash) (domain.FrameworkVersion, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT name, version, content_hash, status, created_at
		FROM framework_versions WHERE name = ? AND content_hash = ?`, name, string(h))
	fv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FrameworkVersion{}, false, nil
	}
	if err != nil {
		return domain.FrameworkVersion{}, false, fmt.Errorf("fetch version by hash for %s: %w", name, err)
	}
	return fv, true, nil
}

// Latest returns the current authoritative version for a framework name.
func (s *Store) Latest(ctx context.Context, name string) (domain.FrameworkVersion, error) {
	return latest(ctx, s.conn, name)
}

// Versions returns every registry row for a name, oldest first.
func (s *Store) Versions(ctx context.Context, name string) ([]domain.FrameworkVersion, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, version, content_hash, status, created_at
		FROM framework_versions WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", name, err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// All returns every registry row, grouped by name then version.
func (s *Store) All(ctx context.Context) ([]domain.FrameworkVersion, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, version, content_hash, status, created_at
		FROM framework_versions ORDER BY name ASC, version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

func collectVersions(rows *sql.Rows) ([]domain.FrameworkVersion, error) {
	var out []domain.FrameworkVersion
	for rows.Next() {
		var fv domain.FrameworkVersion
		var hash string
		var created time.Time
		if err := rows.Scan(&fv.Name, &fv.Version, &hash, &fv.Status, &created); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		fv.ContentHash = domain.Hash(hash)
		fv.CreatedAt = created
		out = append(out, fv)
	}
	return out, rows.Err()
}

// Register creates the first version row for a new framework. It is the
// explicit registration operation used by the CLI; Validate never invents
// version 1 for an unknown name.
func (s *Store) Register(ctx context.Context, name string, content []byte) (domain.FrameworkVersion, error) {
	if _, err := latest(ctx, s.conn, name); err == nil {
		return domain.FrameworkVersion{}, fmt.Errorf("framework %s already registered", name)
	} else if !errors.Is(err, ErrNotRegistered) {
		return domain.FrameworkVersion{}, err
	}

	fv := domain.FrameworkVersion{
		Name:        name,
		Version:     1,
		ContentHash: domain.ContentHash(content),
		Status:      domain.FrameworkActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := insertVersion(ctx, s.conn, fv); err != nil {
		return domain.FrameworkVersion{}, err
	}
	return fv, nil
}

// insertVersion writes one row; unique-constraint violations surface to the
// caller for collision handling.
func insertVersion(ctx context.Context, q querier, fv domain.FrameworkVersion) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO framework_versions (name, version, content_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fv.Name, fv.Version, string(fv.ContentHash), string(fv.Status), fv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version %s v%d: %w", fv.Name, fv.Version, err)
	}
	return nil
}

// deleteVersion removes one row, used only by batch rollback.
func deleteVersion(ctx context.Context, q querier, name string, version int) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM framework_versions WHERE name = ? AND version = ?`, name, version)
	if err != nil {
		return fmt.Errorf("delete version %s v%d: %w", name, version, err)
	}
	return nil
}
