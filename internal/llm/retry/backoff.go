package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
)

// Config controls retry behavior for one middleware instance.
type Config struct {
	// MaxAttempts is the total attempt budget including the first call.
	MaxAttempts int `json:"max_attempts"`

	// InitialInterval seeds the exponential backoff for generic transients.
	InitialInterval time.Duration `json:"initial_interval"`

	// MaxInterval caps the exponential backoff.
	MaxInterval time.Duration `json:"max_interval"`

	// Multiplier grows the interval between attempts.
	Multiplier float64 `json:"multiplier"`

	// RateLimitDelay is the fixed delay class applied to rate-limit
	// responses instead of the exponential schedule.
	RateLimitDelay time.Duration `json:"rate_limit_delay"`

	// UseJitter enables randomized timing on both delay classes.
	UseJitter bool `json:"use_jitter"`

	// MaxElapsedTime bounds the total time spent retrying; zero disables.
	MaxElapsedTime time.Duration `json:"max_elapsed_time"`
}

// DefaultConfig returns the standard retry policy: three attempts,
// full-jitter exponential backoff, and a separate fixed delay for rate
// limits.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		RateLimitDelay:  15 * time.Second,
		UseJitter:       true,
	}
}

// calculateBackoff computes the delay before the next attempt. Rate-limit
// failures use the fixed delay class with jitter; everything else uses
// exponential backoff with full jitter. A provider Retry-After always wins.
func (r *retryMiddleware) calculateBackoff(attempt int, err error) time.Duration {
	if after := extractRetryAfter(err); after > 0 {
		return after
	}

	if llmerrors.IsRateLimitError(err) {
		return r.rateLimitDelay()
	}
	return r.exponentialBackoff(attempt)
}

// rateLimitDelay returns the fixed rate-limit delay with proportional jitter.
func (r *retryMiddleware) rateLimitDelay() time.Duration {
	delay := r.config.RateLimitDelay
	if delay <= 0 {
		delay = DefaultConfig().RateLimitDelay
	}
	if r.config.UseJitter {
		// Spread callers over [delay, delay*1.5) rather than synchronizing
		// them on the same instant the limit resets.
		jitter := time.Duration(rand.Int64N(int64(delay)/2 + 1)) // #nosec G404 -- non-cryptographic jitter
		return delay + jitter
	}
	return delay
}

// exponentialBackoff computes the generic transient delay for an attempt.
func (r *retryMiddleware) exponentialBackoff(attempt int) time.Duration {
	backoff := r.config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond // minimum to prevent hot looping
	}

	for i := 1; i < attempt; i++ {
		multiplier := r.config.Multiplier
		if multiplier < 1.0 {
			multiplier = 1.0
		}
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > r.config.MaxInterval {
			backoff = r.config.MaxInterval
			break
		}
	}

	if r.config.UseJitter {
		// Full jitter: random between 0 and the calculated backoff.
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}

// RetryAfterProvider is implemented by error types that carry a
// server-specified duration to wait before retrying.
type RetryAfterProvider interface {
	// GetRetryAfter returns the recommended wait, or zero when unknown.
	GetRetryAfter() time.Duration
}

// extractRetryAfter pulls provider-specified retry delays out of an error.
func extractRetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}
