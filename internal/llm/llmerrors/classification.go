package llmerrors

import (
	"context"
	"errors"
	"strings"
)

// Classify normalizes an arbitrary error from the transport into an
// ErrorType. It checks strongly-typed errors first, then sentinels, and
// falls back to string pattern matching for untyped transport errors.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return ErrorTypeRateLimit
	}
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return ErrorTypeCircuitBreaker
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorTypeRateLimit
	case errors.Is(err, ErrCircuitBreakerOpen):
		return ErrorTypeCircuitBreaker
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorTypeProvider
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return ErrorTypeAuth
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		return ErrorTypePermission
	case strings.Contains(msg, "quota"):
		return ErrorTypeQuota
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
