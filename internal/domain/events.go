package domain

import (
	"encoding/json"
	"time"
)

// AuditEventType identifies the kind of audit event for routing and replay.
// Typed constants enable exhaustive switches in sinks and projections.
type AuditEventType string

const (
	// EventRunStarted is emitted once when a run record is created.
	EventRunStarted AuditEventType = "RunStarted"

	// EventPhaseStarted and EventPhaseCompleted bracket each phase.
	EventPhaseStarted   AuditEventType = "PhaseStarted"
	EventPhaseCompleted AuditEventType = "PhaseCompleted"

	// EventFrameworkValidated is emitted per framework with its check state.
	EventFrameworkValidated AuditEventType = "FrameworkValidated"

	// EventVersionMinted is emitted when the registry mints a new version.
	EventVersionMinted AuditEventType = "VersionMinted"

	// EventVersionRolledBack is emitted when a minted version is undone.
	EventVersionRolledBack AuditEventType = "VersionRolledBack"

	// EventDocumentAnalyzed is emitted per document, success or failure.
	EventDocumentAnalyzed AuditEventType = "DocumentAnalyzed"

	// EventCacheHit and EventCacheMiss trace validation-cache lookups.
	EventCacheHit  AuditEventType = "CacheHit"
	EventCacheMiss AuditEventType = "CacheMiss"

	// EventRunCompleted and EventRunAborted are terminal.
	EventRunCompleted AuditEventType = "RunCompleted"
	EventRunAborted   AuditEventType = "RunAborted"
)

// AuditEvent is one append-only audit trail entry. Events are written before
// the state they describe becomes externally visible, which is what makes
// rollback by replay-negation possible. The payload itself may live in the
// artifact store; the event carries only its hash.
type AuditEvent struct {
	// RunID identifies the run the event belongs to.
	RunID string `json:"run_id" validate:"required"`

	// Phase is the pipeline phase active when the event was emitted.
	Phase Phase `json:"phase"`

	// Type identifies the event for routing and replay.
	Type AuditEventType `json:"event_type" validate:"required"`

	// PayloadHash is the content address of the event payload, when any.
	PayloadHash Hash `json:"payload_hash,omitempty"`

	// Payload carries small inline details (names, states, reasons).
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Validate checks the audit event fields.
func (e AuditEvent) Validate() error { return validate.Struct(e) }
