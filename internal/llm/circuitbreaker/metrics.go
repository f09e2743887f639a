package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// breakerMetrics tracks circuit breaker activity with atomic counters.
type breakerMetrics struct {
	requestsAllowed  atomic.Int64
	requestsRejected atomic.Int64
	probeAttempts    atomic.Int64
	probeSuccesses   atomic.Int64
	stateTransitions atomic.Int64
	lastStateChange  atomic.Int64 // unix nanos of the most recent transition

	timeClosed   atomic.Int64 // cumulative nanoseconds per state
	timeOpen     atomic.Int64
	timeHalfOpen atomic.Int64
}

// updateStateTime accumulates time spent in the state being left.
func (m *breakerMetrics) updateStateTime(leaving State) {
	now := time.Now().UnixNano()
	prev := m.lastStateChange.Swap(now)
	elapsed := now - prev
	if elapsed <= 0 {
		return
	}
	switch leaving {
	case StateClosed:
		m.timeClosed.Add(elapsed)
	case StateOpen:
		m.timeOpen.Add(elapsed)
	case StateHalfOpen:
		m.timeHalfOpen.Add(elapsed)
	}
}

// Metrics is a point-in-time snapshot of one breaker's activity.
type Metrics struct {
	// State is the breaker state at snapshot time.
	State string `json:"state"`
	// RequestsAllowed counts requests that passed through the breaker.
	RequestsAllowed int64 `json:"requests_allowed"`
	// RequestsRejected counts requests failed fast without a network attempt.
	RequestsRejected int64 `json:"requests_rejected"`
	// ProbeAttempts counts half-open probe requests admitted.
	ProbeAttempts int64 `json:"probe_attempts"`
	// ProbeSuccesses counts half-open probes that succeeded.
	ProbeSuccesses int64 `json:"probe_successes"`
	// StateTransitions counts every state change since creation.
	StateTransitions int64 `json:"state_transitions"`
	// TimeOpen is the cumulative time spent rejecting requests.
	TimeOpen time.Duration `json:"time_open"`
}

// snapshot returns the current metrics for this breaker.
func (b *breaker) snapshot() Metrics {
	return Metrics{
		State:            b.currentState().String(),
		RequestsAllowed:  b.metrics.requestsAllowed.Load(),
		RequestsRejected: b.metrics.requestsRejected.Load(),
		ProbeAttempts:    b.metrics.probeAttempts.Load(),
		ProbeSuccesses:   b.metrics.probeSuccesses.Load(),
		StateTransitions: b.metrics.stateTransitions.Load(),
		TimeOpen:         time.Duration(b.metrics.timeOpen.Load()),
	}
}
