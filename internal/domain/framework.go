package domain

import (
	"fmt"
	"time"
)

// FrameworkStatus is the lifecycle status of a registry row.
type FrameworkStatus string

const (
	// FrameworkActive marks the version usable by runs.
	FrameworkActive FrameworkStatus = "active"

	// FrameworkRetired marks a version superseded and kept for audit only.
	FrameworkRetired FrameworkStatus = "retired"
)

// FrameworkVersion is one authoritative registry row. The registry is the
// single source of truth for execution; any local working copy is advisory.
// Versions for a given name are strictly increasing and at most one row
// exists per (name, content_hash) pair.
type FrameworkVersion struct {
	Name        string          `json:"name" validate:"required"`
	Version     int             `json:"version" validate:"min=1"`
	ContentHash Hash            `json:"content_hash" validate:"required"`
	Status      FrameworkStatus `json:"status" validate:"required,oneof=active retired"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the registry row against its structural constraints.
func (f FrameworkVersion) Validate() error { return validate.Struct(f) }

// CheckState tracks a framework reference through the transaction manager.
// The machine is UNVALIDATED → {VALID | CONTENT_CHANGED | VERSION_MISMATCH |
// MISSING | MALFORMED} → {COMMITTED | ROLLED_BACK}. There is no best-effort
// validity: any state other than VALID (or CONTENT_CHANGED resolved by a
// freshly minted version) fails the whole run.
type CheckState string

const (
	CheckUnvalidated     CheckState = "UNVALIDATED"
	CheckValid           CheckState = "VALID"
	CheckContentChanged  CheckState = "CONTENT_CHANGED"
	CheckVersionMismatch CheckState = "VERSION_MISMATCH"
	CheckMissing         CheckState = "MISSING"
	CheckMalformed       CheckState = "MALFORMED"
	CheckCommitted       CheckState = "COMMITTED"
	CheckRolledBack      CheckState = "ROLLED_BACK"
)

// Fatal reports whether the state aborts a run.
func (s CheckState) Fatal() bool {
	switch s {
	case CheckVersionMismatch, CheckMissing, CheckMalformed, CheckRolledBack:
		return true
	default:
		return false
	}
}

// FrameworkRef names a framework a run wants to use, with the optional local
// working copy and the version the caller believes is current. Content is the
// full raw bytes; the transaction manager never trusts paths or timestamps.
type FrameworkRef struct {
	Name            string `json:"name" validate:"required"`
	Content         []byte `json:"-"`
	ExpectedVersion int    `json:"expected_version,omitempty" validate:"min=0"`
}

// Validate checks the reference fields.
func (r FrameworkRef) Validate() error { return validate.Struct(r) }

// ValidatedFramework is the immutable tagged outcome of validating one
// framework reference: Valid carrying the authoritative registry record, or
// Invalid carrying the failure state, reason, and a remediation hint. Raw
// untyped framework content never flows past this point.
type ValidatedFramework struct {
	name   string
	state  CheckState
	record FrameworkVersion
	reason string
	hint   string
}

// ValidFramework constructs the Valid variant bound to a registry record.
func ValidFramework(record FrameworkVersion) ValidatedFramework {
	return ValidatedFramework{name: record.Name, state: CheckValid, record: record}
}

// InvalidFramework constructs the Invalid variant with a failure state,
// the specific reason, and a remediation hint for the guidance report.
func InvalidFramework(name string, state CheckState, reason, hint string) ValidatedFramework {
	return ValidatedFramework{name: name, state: state, reason: reason, hint: hint}
}

// Name returns the framework name the outcome refers to.
func (v ValidatedFramework) Name() string { return v.name }

// State returns the check state the validation ended in.
func (v ValidatedFramework) State() CheckState { return v.state }

// Valid reports whether the framework may be used by a run.
func (v ValidatedFramework) Valid() bool { return v.state == CheckValid || v.state == CheckCommitted }

// Record returns the authoritative registry record. It panics if called on
// an Invalid outcome; callers must check Valid first.
func (v ValidatedFramework) Record() FrameworkVersion {
	if !v.Valid() {
		panic(fmt.Sprintf("Record called on invalid framework %q (%s)", v.name, v.state))
	}
	return v.record
}

// Reason returns the failure reason for an Invalid outcome.
func (v ValidatedFramework) Reason() string { return v.reason }

// Hint returns the remediation hint for an Invalid outcome.
func (v ValidatedFramework) Hint() string { return v.hint }

// Committed returns a copy of the outcome advanced to COMMITTED.
func (v ValidatedFramework) Committed() ValidatedFramework {
	v.state = CheckCommitted
	return v
}

// RolledBack returns a copy of the outcome advanced to ROLLED_BACK.
func (v ValidatedFramework) RolledBack(reason string) ValidatedFramework {
	v.state = CheckRolledBack
	v.reason = reason
	return v
}
