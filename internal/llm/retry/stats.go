package retry

import (
	"sync/atomic"
	"time"
)

// retryStats provides thread-safe retry metrics using atomic operations.
type retryStats struct {
	totalAttempts           atomic.Int64
	successfulRetries       atomic.Int64
	failedRetries           atomic.Int64
	successfulFirstAttempts atomic.Int64
	maxBackoff              atomic.Int64 // nanoseconds
}

// Stats holds aggregated retry middleware metrics for observability.
type Stats struct {
	// TotalAttempts counts every request attempt including retries.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulRetries counts requests that succeeded only after retrying.
	SuccessfulRetries int64 `json:"successful_retries"`
	// FailedRetries counts requests that exhausted their attempt budget.
	FailedRetries int64 `json:"failed_retries"`
	// AverageAttempts is the mean attempts per request.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest backoff applied.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// recordBackoffMetrics tracks the maximum backoff applied.
func (r *retryMiddleware) recordBackoffMetrics(backoff time.Duration) {
	backoffNanos := backoff.Nanoseconds()
	for {
		current := r.stats.maxBackoff.Load()
		if backoffNanos <= current {
			break
		}
		if r.stats.maxBackoff.CompareAndSwap(current, backoffNanos) {
			break
		}
	}
}

// snapshot returns the current statistics.
func (r *retryMiddleware) snapshot() Stats {
	totalAttempts := r.stats.totalAttempts.Load()
	successfulRetries := r.stats.successfulRetries.Load()
	failedRetries := r.stats.failedRetries.Load()
	successfulFirstAttempts := r.stats.successfulFirstAttempts.Load()

	averageAttempts := 1.0
	if totalRequests := successfulFirstAttempts + successfulRetries + failedRetries; totalRequests > 0 {
		averageAttempts = float64(totalAttempts) / float64(totalRequests)
	}

	return Stats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FailedRetries:     failedRetries,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}
