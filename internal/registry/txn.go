package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corvuslabs/corvus/internal/domain"
)

// ErrValidationFailed is returned by ValidateAll when at least one framework
// reference failed validation. The accompanying guidance report carries the
// per-framework reasons; no paid analysis may run after this error.
var ErrValidationFailed = errors.New("framework validation failed")

// maxMintRetries bounds the per-name collision retry loop during minting.
const maxMintRetries = 5

// Outcome is one framework's validation result, with the minted version row
// when validation resolved a content change by creating one.
type Outcome struct {
	domain.ValidatedFramework

	// Minted is set when this validation created a new registry row. Minted
	// rows are undone if any later framework in the same batch fails.
	Minted *domain.FrameworkVersion
}

// TransactionManager validates framework references against the registry
// with fail-closed semantics: a run proceeds only if every reference
// validates, and a partial batch never leaves orphaned versions behind.
type TransactionManager struct {
	store  *Store
	logger *slog.Logger
}

// NewTransactionManager creates a transaction manager over a registry store.
func NewTransactionManager(store *Store, logger *slog.Logger) *TransactionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionManager{store: store, logger: logger.With("component", "registry")}
}

// Validate checks a single framework reference outside any batch. Content
// changes still mint a new version; the mint is committed immediately.
func (t *TransactionManager) Validate(ctx context.Context, ref domain.FrameworkRef) (Outcome, error) {
	outcomes, _, err := t.ValidateAll(ctx, []domain.FrameworkRef{ref})
	if len(outcomes) == 1 {
		return outcomes[0], err
	}
	return Outcome{}, err
}

// ValidateAll validates every reference inside one database transaction.
// All version rows minted during the attempt become durable only when every
// framework validates; on any failure the transaction rolls back, minted
// outcomes are marked ROLLED_BACK, and ErrValidationFailed is returned with
// a guidance report enumerating each failure.
//
// Database errors (as opposed to validation failures) abort the whole batch:
// ambiguity is never coerced into validity.
func (t *TransactionManager) ValidateAll(ctx context.Context, refs []domain.FrameworkRef) ([]Outcome, *GuidanceReport, error) {
	tx, err := t.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin validation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after explicit commit/rollback

	outcomes := make([]Outcome, 0, len(refs))
	failed := false

	for _, ref := range refs {
		outcome, err := t.validateOne(ctx, tx, ref)
		if err != nil {
			// Infrastructure failure: roll everything back and surface it.
			return nil, nil, err
		}
		if !outcome.Valid() {
			failed = true
		}
		outcomes = append(outcomes, outcome)
	}

	if failed {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return nil, nil, fmt.Errorf("rollback validation transaction: %w", err)
		}
		for i, o := range outcomes {
			if o.Minted != nil {
				t.logger.Info("minted version rolled back",
					"framework", o.Minted.Name,
					"version", o.Minted.Version)
				outcomes[i].ValidatedFramework = o.RolledBack("version minting undone: another framework in the batch failed validation")
				outcomes[i].Minted = nil
			}
		}
		report := buildGuidance(outcomes)
		return outcomes, report, ErrValidationFailed
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit validation transaction: %w", err)
	}
	for i := range outcomes {
		outcomes[i].ValidatedFramework = outcomes[i].Committed()
	}
	return outcomes, buildGuidance(outcomes), nil
}

// validateOne runs the per-framework state machine against the registry.
// Returned errors are infrastructure failures; validation failures are
// expressed as Invalid outcomes.
func (t *TransactionManager) validateOne(ctx context.Context, tx *sql.Tx, ref domain.FrameworkRef) (Outcome, error) {
	invalid := func(state domain.CheckState, reason, hint string) Outcome {
		t.logger.Warn("framework validation failed",
			"framework", ref.Name, "state", string(state), "reason", reason)
		return Outcome{ValidatedFramework: domain.InvalidFramework(ref.Name, state, reason, hint)}
	}

	if ref.Name == "" {
		return invalid(domain.CheckMalformed,
			"framework reference has no name",
			"every framework reference must carry a registry name"), nil
	}

	// The registry is the sole source of truth for execution.
	current, err := latest(ctx, tx, ref.Name)
	if errors.Is(err, ErrNotRegistered) {
		return invalid(domain.CheckMissing,
			"no registry entry exists for this framework",
			"register the framework first: corvus frameworks register "+ref.Name), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	if ref.ExpectedVersion > 0 && ref.ExpectedVersion != current.Version {
		return invalid(domain.CheckVersionMismatch,
			fmt.Sprintf("expected version %d but registry is at version %d", ref.ExpectedVersion, current.Version),
			"re-sync the local working copy against the registry before running"), nil
	}

	// No local copy: the registry record stands on its own.
	if ref.Content == nil {
		return Outcome{ValidatedFramework: domain.ValidFramework(current)}, nil
	}

	if len(ref.Content) == 0 {
		return invalid(domain.CheckMalformed,
			"local framework copy is empty or unreadable",
			"check the framework file exists and is readable"), nil
	}
	var structural any
	if err := yaml.Unmarshal(ref.Content, &structural); err != nil {
		return invalid(domain.CheckMalformed,
			fmt.Sprintf("local framework copy is not well-formed: %v", err),
			"fix the framework file syntax before running"), nil
	}

	localHash := domain.ContentHash(ref.Content)
	if localHash == current.ContentHash {
		return Outcome{ValidatedFramework: domain.ValidFramework(current)}, nil
	}

	// Content changed. If this exact content is already registered under an
	// earlier version, reuse that row: at most one version may exist per
	// (name, content_hash) pair.
	if existing, ok, err := byContentHash(ctx, tx, ref.Name, localHash); err != nil {
		return Outcome{}, err
	} else if ok {
		return Outcome{ValidatedFramework: domain.ValidFramework(existing)}, nil
	}

	minted, err := t.mintVersion(ctx, tx, ref.Name, localHash, current.Version)
	if err != nil {
		if errors.Is(err, ErrVersionCollision) {
			return invalid(domain.CheckVersionMismatch,
				"could not mint a new version: persistent version collision",
				"another writer is updating this framework; retry the run"), nil
		}
		return Outcome{}, err
	}

	t.logger.Info("framework content changed, minted new version",
		"framework", ref.Name, "version", minted.Version, "hash", minted.ContentHash.Short())
	return Outcome{
		ValidatedFramework: domain.ValidFramework(minted),
		Minted:             &minted,
	}, nil
}

// mintVersion performs the optimistic insert with collision retry scoped to
// one framework name. Each retry re-reads the latest version so concurrent
// minting (or duplicate names within a batch) converges on the next free
// number instead of failing spuriously.
func (t *TransactionManager) mintVersion(ctx context.Context, tx *sql.Tx, name string, h domain.Hash, fromVersion int) (domain.FrameworkVersion, error) {
	next := fromVersion + 1
	for attempt := 0; attempt < maxMintRetries; attempt++ {
		fv := domain.FrameworkVersion{
			Name:        name,
			Version:     next,
			ContentHash: h,
			Status:      domain.FrameworkActive,
			CreatedAt:   time.Now().UTC(),
		}
		err := insertVersion(ctx, tx, fv)
		if err == nil {
			return fv, nil
		}
		if !isUniqueViolation(err) {
			return domain.FrameworkVersion{}, err
		}

		current, lerr := latest(ctx, tx, name)
		if lerr != nil {
			return domain.FrameworkVersion{}, lerr
		}
		next = current.Version + 1
	}
	return domain.FrameworkVersion{}, fmt.Errorf("%w: %s after %d attempts", ErrVersionCollision, name, maxMintRetries)
}

// isUniqueViolation detects sqlite unique-constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
