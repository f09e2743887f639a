package domain

import (
	"time"
)

// Phase identifies one ordered stage of a run.
type Phase string

const (
	PhaseValidation    Phase = "validation"
	PhaseAnalysis      Phase = "analysis"
	PhaseConsolidation Phase = "consolidation"
	PhaseSynthesis     Phase = "synthesis"
	PhaseVerification  Phase = "verification"
)

// Phases lists the run phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseValidation, PhaseAnalysis, PhaseConsolidation, PhaseSynthesis, PhaseVerification}
}

// RunStatus is the lifecycle status of a run record.
type RunStatus string

const (
	// RunActive means the orchestrator is still driving phases.
	RunActive RunStatus = "active"

	// RunCompleted is terminal success.
	RunCompleted RunStatus = "completed"

	// RunAborted is terminal failure; the report names the cause.
	RunAborted RunStatus = "aborted"
)

// PhaseTiming records wall-clock boundaries and cache traffic for one phase.
type PhaseTiming struct {
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	CacheHits int64     `json:"cache_hits"`
	CacheMiss int64     `json:"cache_misses"`
}

// Duration returns the elapsed time of the phase.
func (p PhaseTiming) Duration() time.Duration { return p.EndedAt.Sub(p.StartedAt) }

// Document is one corpus item held in memory for the duration of a run.
// Only full content and a stable name matter; the loader owns file formats.
type Document struct {
	Name    string `json:"name" validate:"required"`
	Content []byte `json:"-"`
}

// Validate checks the document fields.
func (d Document) Validate() error { return validate.Struct(d) }

// AnalysisResult is the structured extraction produced for one document.
// Persisted as an artifact once produced; the run record keeps the reference.
type AnalysisResult struct {
	Document string `json:"document" validate:"required"`

	// DimensionScores maps framework dimension names to scores.
	DimensionScores map[string]float64 `json:"dimension_scores" validate:"required"`

	// Evidence holds supporting quotes extracted alongside the scores.
	Evidence []string `json:"evidence,omitempty"`

	// Confidence is the extraction confidence in [0,1]. LowConfidence marks
	// results recovered by the tolerant parser from malformed model output;
	// callers see the flag explicitly instead of a silently defaulted value.
	Confidence    float64 `json:"confidence" validate:"min=0,max=1"`
	LowConfidence bool    `json:"low_confidence"`

	Artifact ArtifactRef `json:"artifact,omitempty"`
}

// Validate checks the analysis result fields.
func (a AnalysisResult) Validate() error { return validate.Struct(a) }

// DocumentFailure records an isolated per-document analysis failure.
type DocumentFailure struct {
	Document string `json:"document"`
	Reason   string `json:"reason"`
}

// ConsolidatedAnalysis merges all successful per-document results. It cannot
// be built until every document outcome, success or recorded failure, is known.
type ConsolidatedAnalysis struct {
	Results  []AnalysisResult  `json:"results"`
	Failures []DocumentFailure `json:"failures,omitempty"`

	// DimensionMeans aggregates scores across successful documents.
	DimensionMeans map[string]float64 `json:"dimension_means"`

	DocumentCount int `json:"document_count"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
}

// SynthesisResult is the consolidated narrative produced over the merged
// analysis, optionally extended by a second evidence-integration pass.
type SynthesisResult struct {
	Narrative           string      `json:"narrative" validate:"required"`
	EvidenceIntegration string      `json:"evidence_integration,omitempty"`
	Model               string      `json:"model"`
	Artifact            ArtifactRef `json:"artifact,omitempty"`
}

// Validate checks the synthesis result fields.
func (s SynthesisResult) Validate() error { return validate.Struct(s) }

// VerificationMismatch records one derived metric outside tolerance.
type VerificationMismatch struct {
	Dimension  string  `json:"dimension"`
	Reported   float64 `json:"reported"`
	Recomputed float64 `json:"recomputed"`
}

// VerificationResult is the outcome of the independent recomputation of
// derived metrics after synthesis.
type VerificationResult struct {
	Checked    int                    `json:"checked"`
	Tolerance  float64                `json:"tolerance"`
	Mismatches []VerificationMismatch `json:"mismatches,omitempty"`
}

// Passed reports whether every checked metric was within tolerance.
func (v VerificationResult) Passed() bool { return len(v.Mismatches) == 0 }

// Run is the mutable record the orchestrator owns for one pipeline
// execution. Only the orchestrator mutates it, as phases complete.
type Run struct {
	ID             string             `json:"run_id" validate:"required"`
	FrameworksUsed []FrameworkVersion `json:"frameworks_used"`
	Documents      []string           `json:"documents"`
	PhaseTimings   []PhaseTiming      `json:"phase_timings"`
	Status         RunStatus          `json:"status" validate:"required,oneof=active completed aborted"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        time.Time          `json:"ended_at,omitempty"`
}

// Validate checks the run record fields.
func (r Run) Validate() error { return validate.Struct(r) }
