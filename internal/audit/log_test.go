package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/domain"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit", "events.jsonl"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndReadBack(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Emit("run-1", "", domain.EventRunStarted, nil))
	require.NoError(t, l.Emit("run-1", domain.PhaseValidation, domain.EventPhaseStarted, nil))
	require.NoError(t, l.Emit("run-1", domain.PhaseValidation, domain.EventFrameworkValidated,
		map[string]string{"framework": "clarity", "state": "VALID"}))

	events, err := l.Events("run-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, domain.EventRunStarted, events[0].Type)
	assert.Equal(t, domain.EventPhaseStarted, events[1].Type)
	assert.Equal(t, domain.EventFrameworkValidated, events[2].Type)
	assert.False(t, events[0].Timestamp.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[2].Payload, &payload))
	assert.Equal(t, "clarity", payload["framework"])
}

func TestEventsFiltersByRunID(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Emit("run-1", "", domain.EventRunStarted, nil))
	require.NoError(t, l.Emit("run-2", "", domain.EventRunStarted, nil))
	require.NoError(t, l.Emit("run-1", "", domain.EventRunCompleted, nil))

	events, err := l.Events("run-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	all, err := l.Events("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	l := openTestLog(t)

	err := l.Append(domain.AuditEvent{Type: domain.EventRunStarted})
	require.Error(t, err, "missing run id must be rejected")

	events, err := l.Events("")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventsSkipsTornLine(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Emit("run-1", "", domain.EventRunStarted, nil))

	// Simulate a crash mid-write.
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"run_id": "run-1", "event_ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := l.Events("run-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	l, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Emit("run-1", "", domain.EventRunStarted, nil))
	require.NoError(t, l.Close())

	l, err = Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	require.NoError(t, l.Emit("run-1", "", domain.EventRunCompleted, nil))

	events, err := l.Events("run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRunStarted, events[0].Type)
	assert.Equal(t, domain.EventRunCompleted, events[1].Type)
}

func TestConcurrentAppends(t *testing.T) {
	l := openTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Emit("run-1", domain.PhaseAnalysis, domain.EventDocumentAnalyzed, nil)
		}()
	}
	wg.Wait()

	events, err := l.Events("run-1")
	require.NoError(t, err)
	assert.Len(t, events, 20, "every concurrent append must land as a complete line")
}
