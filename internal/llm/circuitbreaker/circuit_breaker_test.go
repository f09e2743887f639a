package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

func testRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	return NewRegistry(cfg, slog.Default())
}

func testRequest() *transport.Request {
	return &transport.Request{
		Operation: transport.OpAnalysis,
		Provider:  "openai",
		Model:     "gpt-4",
		Prompt:    "analyze this",
	}
}

func transientErr() error {
	return &llmerrors.ProviderError{
		Provider:   "openai",
		StatusCode: 503,
		Message:    "service unavailable",
		Type:       llmerrors.ErrorTypeProvider,
	}
}

// countingHandler tracks how many times the downstream handler actually ran.
type countingHandler struct {
	calls atomic.Int64
	fn    func() (*transport.Response, error)
}

func (h *countingHandler) Handle(_ context.Context, _ *transport.Request) (*transport.Response, error) {
	h.calls.Add(1)
	return h.fn()
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})
	downstream := &countingHandler{fn: func() (*transport.Response, error) { return nil, transientErr() }}
	h := reg.Middleware()(downstream)

	for i := 0; i < 3; i++ {
		_, err := h.Handle(context.Background(), testRequest())
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, reg.StateFor("openai", "gpt-4"))
	assert.Equal(t, int64(3), downstream.calls.Load())

	// Open breaker fails fast with zero network attempts.
	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, llmerrors.IsCircuitOpen(err))
	var cbErr *llmerrors.CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "open", cbErr.State)
	assert.Equal(t, int64(3), downstream.calls.Load())
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute})
	calls := 0
	h := reg.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		if calls != 3 {
			return nil, transientErr()
		}
		return &transport.Response{Content: "ok"}, nil
	}))

	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	_, err = h.Handle(context.Background(), testRequest())
	require.Error(t, err)

	// Success resets the consecutive-failure count.
	resp, err := h.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, StateClosed, reg.StateFor("openai", "gpt-4"))

	_, err = h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, StateClosed, reg.StateFor("openai", "gpt-4"),
		"failure count must restart after a success")
}

func TestTerminalErrorsDoNotTripBreaker(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	authErr := &llmerrors.ProviderError{
		Provider:   "openai",
		StatusCode: 401,
		Message:    "invalid api key",
		Type:       llmerrors.ErrorTypeAuth,
	}
	h := reg.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, authErr
	}))

	for i := 0; i < 5; i++ {
		_, err := h.Handle(context.Background(), testRequest())
		require.ErrorIs(t, err, authErr)
	}
	assert.Equal(t, StateClosed, reg.StateFor("openai", "gpt-4"))
}

func TestCooldownAdmitsSingleProbe(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 50 * time.Millisecond})
	failing := &countingHandler{fn: func() (*transport.Response, error) { return nil, transientErr() }}
	h := reg.Middleware()(failing)

	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	require.Equal(t, StateOpen, reg.StateFor("openai", "gpt-4"))

	// Within the cool-down the breaker keeps rejecting.
	_, err = h.Handle(context.Background(), testRequest())
	require.True(t, llmerrors.IsCircuitOpen(err))
	assert.Equal(t, int64(1), failing.calls.Load())

	// Backdate the failure so the cool-down has elapsed.
	b := reg.breakerFor("openai", "gpt-4")
	b.lastFailureTime.Store(time.Now().Add(-time.Minute).UnixNano())

	// The probe is admitted but held in flight; a second caller is rejected.
	hold := make(chan struct{})
	done := make(chan error, 1)
	blocking := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		<-hold
		return &transport.Response{Content: "ok"}, nil
	})
	probeHandler := reg.Middleware()(blocking)
	go func() {
		_, err := probeHandler.Handle(context.Background(), testRequest())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return reg.StateFor("openai", "gpt-4") == StateHalfOpen
	}, time.Second, time.Millisecond)

	_, err = probeHandler.Handle(context.Background(), testRequest())
	require.True(t, llmerrors.IsCircuitOpen(err))
	var cbErr *llmerrors.CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "half-open", cbErr.State)

	// Probe success closes the circuit.
	close(hold)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, reg.StateFor("openai", "gpt-4"))
}

func TestProbeFailureReopens(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 50 * time.Millisecond})
	h := reg.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, transientErr()
	}))

	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	require.Equal(t, StateOpen, reg.StateFor("openai", "gpt-4"))

	b := reg.breakerFor("openai", "gpt-4")
	b.lastFailureTime.Store(time.Now().Add(-time.Minute).UnixNano())

	// The probe runs and fails, so the circuit snaps back open.
	_, err = h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.False(t, llmerrors.IsCircuitOpen(err))
	assert.Equal(t, StateOpen, reg.StateFor("openai", "gpt-4"))
}

func TestBreakersAreScopedPerProviderModel(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	h := reg.Middleware()(transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if req.Provider == "openai" {
			return nil, transientErr()
		}
		return &transport.Response{Content: "ok"}, nil
	}))

	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, StateOpen, reg.StateFor("openai", "gpt-4"))

	anthropicReq := testRequest()
	anthropicReq.Provider = "anthropic"
	anthropicReq.Model = "claude-sonnet"
	resp, err := h.Handle(context.Background(), anthropicReq)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, StateClosed, reg.StateFor("anthropic", "claude-sonnet"))
}

func TestStateForUnknownPairIsClosed(t *testing.T) {
	reg := testRegistry(t, DefaultConfig())
	assert.Equal(t, StateClosed, reg.StateFor("google", "gemini-pro"))
}

func TestSnapshotCountsRejections(t *testing.T) {
	reg := testRegistry(t, Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	h := reg.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, transientErr()
	}))

	_, err := h.Handle(context.Background(), testRequest())
	require.Error(t, err)
	for i := 0; i < 3; i++ {
		_, err = h.Handle(context.Background(), testRequest())
		require.True(t, llmerrors.IsCircuitOpen(err))
	}

	snap := reg.Snapshot()
	m, ok := snap["openai/gpt-4"]
	require.True(t, ok)
	assert.Equal(t, "open", m.State)
	assert.Equal(t, int64(1), m.RequestsAllowed)
	assert.Equal(t, int64(3), m.RequestsRejected)
	assert.GreaterOrEqual(t, m.StateTransitions, int64(1))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestUnknownStateErrIsSentinel(t *testing.T) {
	b := newBreaker(DefaultConfig(), slog.Default())
	b.state.Store(42)
	_, _, err := b.allow("openai", "gpt-4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCircuitState))
}
