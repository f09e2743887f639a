// Package audit implements the append-only run audit trail. Events are
// written and fsynced as JSON lines before the state they describe becomes
// externally visible, so an interrupted run can always be reconstructed from
// the trail.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corvuslabs/corvus/internal/domain"
)

// Log is an append-only JSONL audit sink. All methods are safe for
// concurrent use.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	logger *slog.Logger
}

// Open creates or opens the audit log at path in append mode.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Log{
		f:      f,
		path:   path,
		logger: logger.With("component", "audit"),
	}, nil
}

// Append writes one event as a JSON line and syncs it to disk. The write
// happens before the state the event describes is made visible; callers must
// treat an Append failure as fatal for the operation being recorded.
func (l *Log) Append(event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// Emit builds and appends an event with an inline JSON payload.
func (l *Log) Emit(runID string, phase domain.Phase, eventType domain.AuditEventType, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		raw = b
	}
	return l.Append(domain.AuditEvent{
		RunID:   runID,
		Phase:   phase,
		Type:    eventType,
		Payload: raw,
	})
}

// Events reads back all events for a run, in append order. Lines that do not
// decode are skipped with a warning; a torn final line from a crashed process
// must not block reading the rest of the trail.
func (l *Log) Events(runID string) ([]domain.AuditEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event domain.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			l.logger.Warn("skipping undecodable audit line", "error", err)
			continue
		}
		if runID == "" || event.RunID == runID {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
