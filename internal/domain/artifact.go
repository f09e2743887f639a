// Package domain defines the validated value types shared across the
// analysis pipeline: artifacts, frameworks, runs, and audit events.
// Types here carry no I/O; persistence and transport live in sibling packages.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Hash is a lowercase hex-encoded sha256 digest identifying artifact content.
// Identical bytes always produce the same Hash; the artifact store is
// addressed exclusively by it.
type Hash string

// HashLength is the expected length of a hex-encoded sha256 digest.
const HashLength = 64

// ContentHash computes the content address for a byte sequence.
// It is a pure function: the same bytes always yield the same Hash,
// independent of file paths, names, or timestamps.
func ContentHash(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// Valid reports whether h is a well-formed hex sha256 digest.
func (h Hash) Valid() bool {
	if len(h) != HashLength {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Short returns the leading prefix of the hash used in entry names and logs.
func (h Hash) Short() string {
	const prefixLen = 12
	if len(h) < prefixLen {
		return string(h)
	}
	return string(h[:prefixLen])
}

// ArtifactKind categorizes the type of content stored in an artifact.
// Using typed constants instead of raw strings provides compile-time safety
// and prevents typos that could bypass validation.
type ArtifactKind string

const (
	// ArtifactValidationResult is a serialized coherence-validation result.
	ArtifactValidationResult ArtifactKind = "validation_result"

	// ArtifactAnalysisResult is a per-document structured analysis output.
	ArtifactAnalysisResult ArtifactKind = "analysis_result"

	// ArtifactSynthesisResult is a consolidated synthesis output.
	ArtifactSynthesisResult ArtifactKind = "synthesis_result"

	// ArtifactRunReport is the final performance/audit report for a run.
	ArtifactRunReport ArtifactKind = "run_report"

	// ArtifactFramework is the raw framework definition used by a run.
	ArtifactFramework ArtifactKind = "framework"
)

// ArtifactRef references content held in the artifact store. Large payloads
// stay in the store; records carry only the hash, keeping run state and the
// audit trail lightweight.
type ArtifactRef struct {
	// Hash is the content address of the stored bytes.
	Hash Hash `json:"hash" validate:"required"`

	// Size is the size of the stored content in bytes.
	Size int64 `json:"size" validate:"min=0"`

	// Kind categorizes the stored content.
	Kind ArtifactKind `json:"kind" validate:"required"`

	// CreatedAt records when the artifact was first written.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the artifact reference meets all requirements.
func (a ArtifactRef) Validate() error { return validate.Struct(a) }

// IsZero reports whether the artifact reference has no meaningful value set.
func (a ArtifactRef) IsZero() bool { return a.Hash == "" && a.Size == 0 && a.Kind == "" }
