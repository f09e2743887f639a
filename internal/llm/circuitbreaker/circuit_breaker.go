// Package circuitbreaker protects providers from cascading failures. Each
// provider/model pair gets one breaker: CLOSED lets requests through, OPEN
// fails fast with zero network attempts, and after a cool-down HALF_OPEN
// admits a single probe that decides between closing and reopening.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
)

// ErrUnknownCircuitState is returned when the circuit is in an unknown state.
var ErrUnknownCircuitState = errors.New("unknown circuit state")

// jitterDivisor sizes the open-timeout jitter as a fraction of the timeout.
const jitterDivisor = 10

// State represents the current state of a circuit breaker.
type State int32

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls breaker thresholds and timing.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `json:"failure_threshold"`
	// SuccessThreshold is the probe-success count that closes it again.
	SuccessThreshold int `json:"success_threshold"`
	// OpenTimeout is the cool-down before a half-open probe is allowed.
	OpenTimeout time.Duration `json:"open_timeout"`
}

// DefaultConfig returns the standard breaker policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// breaker implements per-provider circuit breaking with atomic state
// transitions and thread-safe failure tracking.
type breaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
	probeInFlight   atomic.Bool

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	metrics *breakerMetrics
	logger  *slog.Logger
}

// newBreaker creates a circuit breaker in the closed state.
func newBreaker(cfg Config, logger *slog.Logger) *breaker {
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		metrics:          &breakerMetrics{},
		logger:           logger,
	}
	b.state.Store(int32(StateClosed))
	b.metrics.lastStateChange.Store(time.Now().UnixNano())
	return b
}

// getJitter returns a random jitter up to 10% of the open timeout, spreading
// probe attempts from concurrent callers.
func (b *breaker) getJitter() time.Duration {
	if b.openTimeout <= 0 {
		return 0
	}
	jit := b.openTimeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(jit))) // #nosec G404 -- non-cryptographic jitter
}

// allow checks whether a request may proceed. The returned cleanup must be
// called when the request completes so the probe slot is released; the probe
// flag marks requests that are half-open probes.
func (b *breaker) allow(provider, model string) (cleanup func(), probe bool, err error) {
	noop := func() {}
	state := State(b.state.Load())

	switch state {
	case StateClosed:
		b.metrics.requestsAllowed.Add(1)
		return noop, false, nil

	case StateOpen, StateHalfOpen:
		if state == StateOpen {
			lastFailure := time.Unix(0, b.lastFailureTime.Load())
			if time.Since(lastFailure) <= b.openTimeout+b.getJitter() {
				b.metrics.requestsRejected.Add(1)
				return noop, false, &llmerrors.CircuitBreakerError{
					Provider: provider,
					Model:    model,
					State:    StateOpen.String(),
				}
			}
			b.transitionTo(StateHalfOpen)
		}

		// Exactly one probe at a time in half-open.
		if !b.probeInFlight.CompareAndSwap(false, true) {
			b.metrics.requestsRejected.Add(1)
			return noop, false, &llmerrors.CircuitBreakerError{
				Provider: provider,
				Model:    model,
				State:    StateHalfOpen.String(),
			}
		}
		b.metrics.probeAttempts.Add(1)
		b.metrics.requestsAllowed.Add(1)
		return func() { b.probeInFlight.Store(false) }, true, nil

	default:
		return noop, false, fmt.Errorf("%w: %v", ErrUnknownCircuitState, state)
	}
}

// recordSuccess records a successful request and manages state transitions.
// In half-open, enough successes transition the breaker back to closed.
func (b *breaker) recordSuccess() {
	for {
		state := b.state.Load()
		switch State(state) {
		case StateClosed:
			b.failures.Store(0)
			return

		case StateHalfOpen:
			successes := b.successes.Add(1)
			b.metrics.probeSuccesses.Add(1)
			if int(successes) >= b.successThreshold {
				if b.state.CompareAndSwap(state, int32(StateClosed)) {
					b.failures.Store(0)
					b.successes.Store(0)
					b.metrics.stateTransitions.Add(1)
					b.metrics.updateStateTime(StateHalfOpen)
					b.logger.Info("circuit breaker state transition",
						"from", StateHalfOpen.String(), "to", StateClosed.String())
					return
				}
				b.successes.Add(-1)
				continue
			}
			return

		case StateOpen:
			// A late success from an in-flight call; nothing to do.
			return
		}
	}
}

// recordFailure records a failed request and manages state transitions.
// N consecutive failures in closed open the circuit; any failure in
// half-open reopens it immediately.
func (b *breaker) recordFailure() {
	b.lastFailureTime.Store(time.Now().UnixNano())

	for {
		state := b.state.Load()
		switch State(state) {
		case StateClosed:
			failures := b.failures.Add(1)
			if int(failures) >= b.failureThreshold {
				if b.state.CompareAndSwap(state, int32(StateOpen)) {
					b.failures.Store(0)
					b.successes.Store(0)
					b.metrics.stateTransitions.Add(1)
					b.metrics.updateStateTime(StateClosed)
					b.logger.Info("circuit breaker state transition",
						"from", StateClosed.String(), "to", StateOpen.String())
					return
				}
				continue
			}
			return

		case StateHalfOpen:
			if b.state.CompareAndSwap(state, int32(StateOpen)) {
				b.failures.Store(0)
				b.successes.Store(0)
				b.probeInFlight.Store(false)
				b.metrics.stateTransitions.Add(1)
				b.metrics.updateStateTime(StateHalfOpen)
				b.logger.Info("circuit breaker state transition",
					"from", StateHalfOpen.String(), "to", StateOpen.String())
				return
			}
			continue

		case StateOpen:
			return
		}
	}
}

// transitionTo changes the circuit breaker state unconditionally.
func (b *breaker) transitionTo(newState State) {
	oldState := State(b.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	b.failures.Store(0)
	b.successes.Store(0)
	if newState != StateHalfOpen {
		b.probeInFlight.Store(false)
	}

	b.metrics.stateTransitions.Add(1)
	b.metrics.updateStateTime(oldState)
	b.logger.Info("circuit breaker state transition",
		"from", oldState.String(), "to", newState.String())
}

// currentState returns the breaker state for reporting.
func (b *breaker) currentState() State { return State(b.state.Load()) }
