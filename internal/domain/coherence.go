package domain

import "time"

// CoherenceResult is the outcome of the automated coherence check that a
// framework+experiment+corpus combination is well-formed, produced by an LLM
// call before any paid analysis runs. Results are cached by full-content key;
// a cached Hit must reconstruct a result equivalent to what was stored.
type CoherenceResult struct {
	// Coherent reports whether the combination passed the check.
	Coherent bool `json:"coherent"`

	// Issues lists the specific problems found when not coherent.
	Issues []string `json:"issues,omitempty"`

	// Confidence is the model's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`

	// Model identifies the provider/model that produced the result.
	Model string `json:"model" validate:"required"`

	// CheckedAt records when the validation was performed (not when it was
	// served from cache).
	CheckedAt time.Time `json:"checked_at"`
}

// Validate checks the coherence result fields.
func (c CoherenceResult) Validate() error { return validate.Struct(c) }
