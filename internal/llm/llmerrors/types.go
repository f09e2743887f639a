// Package llmerrors defines the error taxonomy for the provider reliability
// layer. Classification into retryable and terminal categories drives retry,
// circuit breaking, and failover decisions for every outbound model call.
package llmerrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes model operation failures for retry classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates rate limit exceeded; retried with the
	// longer fixed-delay backoff class, not the exponential one (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates provider service unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker indicates circuit breaker protection activated.
	// Not retried against the same provider; triggers failover instead.
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeAuth indicates authentication failed (terminal).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (terminal).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeValidation indicates a malformed request (terminal).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeQuota indicates account quota exceeded (terminal).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeUnknown indicates an unclassified error (terminal by default).
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common model operation errors for consistent error handling.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrUnknownProvider indicates an unknown or unsupported provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidResponse indicates the provider returned an invalid response.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrMaxRetriesExceeded indicates maximum retry attempts exceeded.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ProviderError captures structured error responses from model providers.
// Includes HTTP status codes, provider-specific error codes, and retry
// timing to enable appropriate retry behavior and error diagnosis.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns the formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable determines if the provider error warrants a retry attempt.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError provides detailed rate limit context for backoff timing.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
}

// Error returns the formatted rate limit error with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError indicates breaker activation for provider protection.
// It fails fast without a network attempt and signals the client to route
// to the configured secondary provider.
type CircuitBreakerError struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	State    string `json:"state"` // "open" or "half-open"
}

// Error returns the formatted circuit breaker error with state context.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s/%s", e.State, e.Provider, e.Model)
}

// IsRetryableError determines if an error warrants a retry attempt.
// Timeouts, 5xx responses, rate limits, and network failures are retryable;
// authentication and malformed-request failures never are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	if errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	type statusCoder interface{ StatusCode() int }
	if sc, ok := err.(statusCoder); ok {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code == http.StatusGatewayTimeout ||
			code >= 500
	}

	// Conservative default: avoid retry loops for unknown errors.
	return false
}

// IsRateLimitError identifies rate limiting errors for the fixed-delay
// backoff class.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type == ErrorTypeRateLimit
	}

	return errors.Is(err, ErrRateLimitExceeded)
}

// IsCircuitOpen identifies breaker fail-fast errors for failover routing.
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return true
	}
	return errors.Is(err, ErrCircuitBreakerOpen)
}
