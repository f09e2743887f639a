package providers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
)

// serverErrorStatusThreshold is the HTTP status code floor for server errors.
const serverErrorStatusThreshold = 500

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes. Provider-specific error codes take precedence over status codes.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	if strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit") {
		return llmerrors.ErrorTypeRateLimit
	}
	if strings.Contains(lowerCode, "timeout") {
		return llmerrors.ErrorTypeTimeout
	}
	if strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized") {
		return llmerrors.ErrorTypeAuth
	}
	if strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden") {
		return llmerrors.ErrorTypePermission
	}
	if strings.Contains(lowerCode, "quota") {
		return llmerrors.ErrorTypeQuota
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest:
		return llmerrors.ErrorTypeValidation
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return llmerrors.ErrorTypeProvider
	default:
		if statusCode >= serverErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}

// retryAfterSeconds extracts the Retry-After header as whole seconds.
// Only the delta-seconds form is handled; HTTP-date values return zero.
func retryAfterSeconds(headers http.Header) int {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
