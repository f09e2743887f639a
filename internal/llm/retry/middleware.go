// Package retry provides the retry middleware for the provider reliability
// layer: bounded attempts, exponential backoff with full jitter for generic
// transients, and a distinct fixed-delay class for rate-limit responses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")

	// Runtime errors.
	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
	errAllRetriesExhausted         = errors.New("all retries exhausted")
)

// retryMiddleware implements retry logic with classified backoff.
type retryMiddleware struct {
	config Config
	logger *slog.Logger
	stats  *retryStats
}

// Retrier owns one retry middleware instance and exposes its statistics.
type Retrier struct {
	rm *retryMiddleware
}

// Middleware returns the transport middleware for this retrier.
func (r *Retrier) Middleware() transport.Middleware { return r.rm.middleware() }

// Stats returns a snapshot of retry activity.
func (r *Retrier) Stats() Stats { return r.rm.snapshot() }

// New creates a retrier with the specified configuration.
func New(cfg Config, logger *slog.Logger) (*Retrier, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v",
			errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}

	if logger == nil {
		logger = slog.Default()
	}
	rm := &retryMiddleware{
		config: cfg,
		logger: logger.With("component", "retry"),
		stats:  &retryStats{},
	}
	return &Retrier{rm: rm}, nil
}

// middleware returns the retry middleware function.
func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			var lastErr error
			startTime := time.Now()

			// Fail fast if the run was already cancelled.
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
			default:
			}

			for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
				if r.config.MaxElapsedTime > 0 && time.Since(startTime) > r.config.MaxElapsedTime {
					r.logger.Warn("max elapsed time exceeded",
						"elapsed", time.Since(startTime),
						"attempts", attempt-1,
						"last_error", lastErr)
					break
				}

				resp, err := next.Handle(ctx, req)
				r.stats.totalAttempts.Add(1)

				if err == nil {
					if attempt > 1 {
						r.stats.successfulRetries.Add(1)
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model)
					} else {
						r.stats.successfulFirstAttempts.Add(1)
					}
					return resp, nil
				}

				// Terminal errors are returned immediately; retrying an auth
				// failure or a malformed request will always fail again.
				if !r.isRetryable(err) {
					r.logger.Debug("non-retryable error",
						"error", err,
						"attempt", attempt,
						"provider", req.Provider)
					return nil, err
				}

				lastErr = err
				if attempt == r.config.MaxAttempts {
					break
				}

				backoff := r.calculateBackoff(attempt, err)
				r.recordBackoffMetrics(backoff)
				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"rate_limited", llmerrors.IsRateLimitError(err),
					"provider", req.Provider)

				select {
				case <-time.After(backoff):
					// Continue to next attempt.
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
				}
			}

			r.stats.failedRetries.Add(1)
			return nil, fmt.Errorf("%w after %d attempts: %w",
				errAllRetriesExhausted, r.config.MaxAttempts, lastErr)
		})
	}
}

// isRetryable evaluates error types to determine retry eligibility.
func (r *retryMiddleware) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Breaker fail-fast errors go to failover, not another local attempt.
	if llmerrors.IsCircuitOpen(err) {
		return false
	}

	if llmerrors.IsRateLimitError(err) {
		return true
	}
	if llmerrors.IsRetryableError(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isNetworkError(err)
}

// isNetworkError checks for network-related errors via type assertions,
// falling back to indicator strings for errors the stdlib does not type.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return isNetworkErrorByString(err.Error())
}

func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
