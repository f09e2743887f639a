package domain

import "time"

// DocumentStatus summarizes one document's outcome for the final report.
type DocumentStatus struct {
	Document string `json:"document"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

// FrameworkGuidance is one entry of the rollback-guidance report produced
// when validation fails: the specific failing framework, why it failed, and
// what the operator should do about it. User-visible output names these
// entries, never a raw internal trace.
type FrameworkGuidance struct {
	Name   string     `json:"name"`
	State  CheckState `json:"state"`
	Reason string     `json:"reason"`
	Hint   string     `json:"hint"`
}

// CacheReport summarizes validation-cache behavior over a run.
type CacheReport struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	Efficiency string  `json:"efficiency"`
}

// ProviderHealth is a per-provider snapshot for the final report.
type ProviderHealth struct {
	Provider     string  `json:"provider"`
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	BreakerState string  `json:"breaker_state"`
}

// RunReport aggregates phase timings, cache efficiency, and pass/fail status
// per document and per framework. It is the only user-visible summary of a
// run and is itself persisted as an artifact.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Status     RunStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	Timings    []PhaseTiming `json:"phase_timings"`

	Frameworks []FrameworkGuidance `json:"frameworks"`
	Documents  []DocumentStatus    `json:"documents"`

	Cache     CacheReport      `json:"cache"`
	Providers []ProviderHealth `json:"providers,omitempty"`

	Synthesis    *SynthesisResult    `json:"synthesis,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`

	// AbortReason names the fatal condition for aborted runs.
	AbortReason string `json:"abort_reason,omitempty"`
}

// FailedFrameworks returns the guidance entries for frameworks that failed.
func (r RunReport) FailedFrameworks() []FrameworkGuidance {
	var failed []FrameworkGuidance
	for _, g := range r.Frameworks {
		if g.State != CheckValid && g.State != CheckCommitted {
			failed = append(failed, g)
		}
	}
	return failed
}
