// Package transport defines the request pipeline the provider reliability
// layer is built from: normalized request/response types and the
// Handler/Middleware composition every outbound model call flows through.
package transport

import (
	"net/http"
	"time"
)

// OperationType differentiates the pipeline calls made against providers.
// Affects cache namespacing, metrics labeling, and prompt construction.
type OperationType string

const (
	// OpCoherence is the pre-run coherence validation of a framework
	// against an experiment and corpus.
	OpCoherence OperationType = "coherence"

	// OpAnalysis is the per-document structured extraction call.
	OpAnalysis OperationType = "analysis"

	// OpSynthesis aggregates consolidated results into a narrative.
	OpSynthesis OperationType = "synthesis"
)

// Request represents a normalized request across all model providers.
// It contains everything adapters need to build provider-specific HTTP
// requests plus the control fields middleware keys on.
type Request struct {
	// Operation affects routing, metrics, and caching.
	Operation OperationType `json:"operation"`

	// Provider identifies which model service to use.
	Provider string `json:"provider"` // "openai"|"anthropic"|"google"

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	// SystemPrompt provides instructions to the model.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the user-turn content of the call.
	Prompt string `json:"prompt"`

	// Generation parameters.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Timeout is the per-call deadline. Exceeding it is a retryable
	// failure consumed by the retry middleware's attempt budget.
	Timeout time.Duration `json:"timeout"`

	// IdempotencyKey deduplicates identical calls within a run.
	IdempotencyKey string `json:"idempotency_key"`

	// RunID correlates the call with the run's audit trail.
	RunID string `json:"run_id"`

	// Metadata carries free-form labels for logging.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a shallow copy safe for rerouting to another provider.
func (r *Request) Clone() *Request {
	cp := *r
	return &cp
}

// Response represents normalized output from any model provider.
type Response struct {
	// Content is the generated text, expected to be schema-constrained JSON
	// for extraction operations.
	Content string `json:"content"`

	// ProviderRequestIDs enables cross-system correlation.
	ProviderRequestIDs []string `json:"provider_request_ids,omitempty"`

	// Usage tracks normalized resource consumption.
	Usage NormalizedUsage `json:"usage"`

	// FromCache marks responses served by the response cache middleware.
	FromCache bool `json:"from_cache,omitempty"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
