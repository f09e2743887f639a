package registry_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/domain"
	"github.com/corvuslabs/corvus/internal/registry"
)

func newStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newManager(t *testing.T, store *registry.Store) *registry.TransactionManager {
	t.Helper()
	return registry.NewTransactionManager(store, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestRegisterCreatesVersionOne(t *testing.T) {
	store := newStore(t)
	content := []byte("dimensions:\n  - name: economic_appeal\n")

	fv, err := store.Register(context.Background(), "populism", content)
	require.NoError(t, err)
	assert.Equal(t, 1, fv.Version)
	assert.Equal(t, domain.ContentHash(content), fv.ContentHash)

	_, err = store.Register(context.Background(), "populism", content)
	assert.Error(t, err, "double registration must fail")
}

func TestValidateUnchangedContentIsValid(t *testing.T) {
	store := newStore(t)
	content := []byte("dimensions:\n  - name: economic_appeal\n")
	_, err := store.Register(context.Background(), "populism", content)
	require.NoError(t, err)

	mgr := newManager(t, store)
	outcome, err := mgr.Validate(context.Background(), domain.FrameworkRef{
		Name:    "populism",
		Content: content,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Equal(t, domain.CheckCommitted, outcome.State())
	assert.Equal(t, 1, outcome.Record().Version)
	assert.Nil(t, outcome.Minted)
}

func TestValidateContentChangeMintsNextVersion(t *testing.T) {
	store := newStore(t)
	v1 := []byte("dimensions:\n  - name: economic_appeal\n")
	_, err := store.Register(context.Background(), "populism", v1)
	require.NoError(t, err)

	v2 := []byte("dimensions:\n  - name: economic_appeal\n  - name: elite_critique\n")
	mgr := newManager(t, store)
	outcome, err := mgr.Validate(context.Background(), domain.FrameworkRef{
		Name:    "populism",
		Content: v2,
	})
	require.NoError(t, err)
	require.True(t, outcome.Valid())
	assert.Equal(t, 2, outcome.Record().Version, "new version must be previous+1")
	assert.Equal(t, domain.ContentHash(v2), outcome.Record().ContentHash)

	// Exactly one new row, prior row untouched.
	versions, err := store.Versions(context.Background(), "populism")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, domain.ContentHash(v1), versions[0].ContentHash)
	assert.Equal(t, 1, versions[0].Version)
}

func TestValidateRevertedContentReusesExistingVersion(t *testing.T) {
	store := newStore(t)
	v1 := []byte("a: 1\n")
	v2 := []byte("a: 2\n")
	_, err := store.Register(context.Background(), "fw", v1)
	require.NoError(t, err)

	mgr := newManager(t, store)
	_, err = mgr.Validate(context.Background(), domain.FrameworkRef{Name: "fw", Content: v2})
	require.NoError(t, err)

	// Reverting to v1 content must bind to the existing row, not mint v3.
	outcome, err := mgr.Validate(context.Background(), domain.FrameworkRef{Name: "fw", Content: v1})
	require.NoError(t, err)
	require.True(t, outcome.Valid())
	assert.Equal(t, 1, outcome.Record().Version)

	versions, err := store.Versions(context.Background(), "fw")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestValidateFailureStates(t *testing.T) {
	store := newStore(t)
	content := []byte("a: 1\n")
	_, err := store.Register(context.Background(), "known", content)
	require.NoError(t, err)
	mgr := newManager(t, store)

	tests := []struct {
		name  string
		ref   domain.FrameworkRef
		state domain.CheckState
	}{
		{
			name:  "missing registry entry",
			ref:   domain.FrameworkRef{Name: "unknown", Content: content},
			state: domain.CheckMissing,
		},
		{
			name:  "version mismatch",
			ref:   domain.FrameworkRef{Name: "known", Content: content, ExpectedVersion: 7},
			state: domain.CheckVersionMismatch,
		},
		{
			name:  "malformed local copy",
			ref:   domain.FrameworkRef{Name: "known", Content: []byte("a: [unclosed\n  b:")},
			state: domain.CheckMalformed,
		},
		{
			name:  "empty local copy",
			ref:   domain.FrameworkRef{Name: "known", Content: []byte{}},
			state: domain.CheckMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes, report, err := mgr.ValidateAll(context.Background(), []domain.FrameworkRef{tt.ref})
			assert.ErrorIs(t, err, registry.ErrValidationFailed)
			require.Len(t, outcomes, 1)
			assert.False(t, outcomes[0].Valid())
			assert.Equal(t, tt.state, outcomes[0].State())
			require.NotNil(t, report)
			require.Len(t, report.Failed(), 1)
			assert.NotEmpty(t, report.Failed()[0].Reason)
			assert.NotEmpty(t, report.Failed()[0].Hint)
		})
	}
}

func TestValidateAllRollsBackMintedVersions(t *testing.T) {
	store := newStore(t)
	v1a := []byte("a: 1\n")
	v1b := []byte("b: 1\n")
	_, err := store.Register(context.Background(), "alpha", v1a)
	require.NoError(t, err)
	_, err = store.Register(context.Background(), "beta", v1b)
	require.NoError(t, err)

	mgr := newManager(t, store)
	refs := []domain.FrameworkRef{
		{Name: "alpha", Content: []byte("a: 2\n")}, // mints alpha v2
		{Name: "beta", Content: []byte("b: 2\n")},  // mints beta v2
		{Name: "gamma", Content: []byte("c: 1\n")}, // missing: fails the batch
	}

	outcomes, report, err := mgr.ValidateAll(context.Background(), refs)
	assert.ErrorIs(t, err, registry.ErrValidationFailed)
	require.Len(t, outcomes, 3)

	// Minted rows were undone before the caller saw the failure.
	for _, name := range []string{"alpha", "beta"} {
		versions, err := store.Versions(context.Background(), name)
		require.NoError(t, err)
		assert.Len(t, versions, 1, "no orphaned versions for %s", name)
	}
	assert.Equal(t, domain.CheckRolledBack, outcomes[0].State())
	assert.Equal(t, domain.CheckRolledBack, outcomes[1].State())
	assert.Equal(t, domain.CheckMissing, outcomes[2].State())

	// The guidance report names exactly the failing frameworks.
	require.NotNil(t, report)
	failed := report.Failed()
	names := make([]string, 0, len(failed))
	for _, f := range failed {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "gamma")
}

func TestValidateAllTwoOfFiveFail(t *testing.T) {
	store := newStore(t)
	mgr := newManager(t, store)

	good := [][]byte{[]byte("a: 1\n"), []byte("b: 1\n"), []byte("c: 1\n")}
	for i, name := range []string{"f1", "f2", "f3"} {
		_, err := store.Register(context.Background(), name, good[i])
		require.NoError(t, err)
	}

	refs := []domain.FrameworkRef{
		{Name: "f1", Content: good[0]},
		{Name: "f2", Content: good[1]},
		{Name: "f3", Content: good[2]},
		{Name: "f4", Content: []byte("d: 1\n")},       // missing
		{Name: "f5", Content: []byte("e: [broken\n")}, // missing (and malformed)
	}

	_, report, err := mgr.ValidateAll(context.Background(), refs)
	assert.ErrorIs(t, err, registry.ErrValidationFailed)
	require.NotNil(t, report)
	assert.Len(t, report.Failed(), 2, "guidance must name exactly the failing frameworks")

	rendered := report.Render()
	assert.Contains(t, rendered, "f4")
	assert.Contains(t, rendered, "f5")
	assert.NotContains(t, rendered, "f1 [")
}

func TestValidateWithoutLocalCopy(t *testing.T) {
	store := newStore(t)
	content := []byte("a: 1\n")
	_, err := store.Register(context.Background(), "fw", content)
	require.NoError(t, err)

	mgr := newManager(t, store)
	outcome, err := mgr.Validate(context.Background(), domain.FrameworkRef{Name: "fw"})
	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Equal(t, 1, outcome.Record().Version)
}
