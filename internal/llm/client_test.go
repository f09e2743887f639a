package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/llm/circuitbreaker"
	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/providers"
	"github.com/corvuslabs/corvus/internal/llm/retry"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

// scriptedTransport routes fake HTTP responses by provider host and counts
// the network attempts actually made.
type scriptedTransport struct {
	mu       sync.Mutex
	attempts map[string]int
	respond  func(host string, attempt int) *http.Response
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	host := req.URL.Host
	s.attempts[host]++
	attempt := s.attempts[host]
	s.mu.Unlock()
	return s.respond(host, attempt), nil
}

func (s *scriptedTransport) attemptsFor(host string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[host]
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const openaiSuccess = `{
	"id": "chatcmpl-1",
	"model": "gpt-4",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\": true}"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

const anthropicSuccess = `{
	"id": "msg-1",
	"content": [{"type": "text", "text": "failover response"}],
	"model": "claude-sonnet",
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

const serverError = `{"error": {"message": "overloaded", "type": "server_error", "code": "overloaded"}}`

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		RateLimitDelay:  time.Millisecond,
		UseJitter:       false,
	}
}

func newTestClient(t *testing.T, cfg *Config, rt *scriptedTransport) *Client {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = map[string]providers.Config{
			providers.ProviderOpenAI: {APIKey: "sk-test"},
		}
	}
	cfg.Retry = fastRetry()
	cfg.HTTPClient = &http.Client{Transport: rt}

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)
	return client
}

func openaiRequest() *transport.Request {
	return &transport.Request{
		Operation: transport.OpAnalysis,
		Provider:  providers.ProviderOpenAI,
		Model:     "gpt-4",
		Prompt:    "analyze this document",
		RunID:     "run-1",
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(_ string, attempt int) *http.Response {
			if attempt <= 2 {
				return jsonResponse(http.StatusServiceUnavailable, serverError)
			}
			return jsonResponse(http.StatusOK, openaiSuccess)
		},
	}
	client := newTestClient(t, nil, rt)

	resp, err := client.Do(context.Background(), openaiRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Content)
	assert.Equal(t, 3, rt.attemptsFor("api.openai.com"),
		"two transient failures then success must take exactly three attempts")

	stats := client.RetryStats()
	assert.Equal(t, int64(3), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.SuccessfulRetries)
}

func TestDoFailsAfterExhaustingAttempts(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(string, int) *http.Response {
			return jsonResponse(http.StatusServiceUnavailable, serverError)
		},
	}
	client := newTestClient(t, nil, rt)

	_, err := client.Do(context.Background(), openaiRequest())
	require.Error(t, err)
	assert.Equal(t, 3, rt.attemptsFor("api.openai.com"))
}

func TestDoDoesNotRetryTerminalErrors(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(string, int) *http.Response {
			return jsonResponse(http.StatusUnauthorized,
				`{"error": {"message": "bad key", "type": "invalid_api_key", "code": "invalid_api_key"}}`)
		},
	}
	client := newTestClient(t, nil, rt)

	_, err := client.Do(context.Background(), openaiRequest())
	require.Error(t, err)
	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeAuth, provErr.Type)
	assert.Equal(t, 1, rt.attemptsFor("api.openai.com"), "terminal errors must not be retried")
}

func TestDoFailsOverWhenBreakerOpens(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(host string, _ int) *http.Response {
			if strings.Contains(host, "openai") {
				return jsonResponse(http.StatusServiceUnavailable, serverError)
			}
			return jsonResponse(http.StatusOK, anthropicSuccess)
		},
	}

	cfg := DefaultConfig()
	cfg.Providers = map[string]providers.Config{
		providers.ProviderOpenAI:    {APIKey: "sk-test"},
		providers.ProviderAnthropic: {APIKey: "ak-test"},
	}
	cfg.Failover = map[string]FailoverTarget{
		providers.ProviderOpenAI: {Provider: providers.ProviderAnthropic, Model: "claude-sonnet"},
	}
	cfg.CircuitBreaker = circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
	client := newTestClient(t, cfg, rt)

	// First call exhausts retries against the primary and trips its breaker.
	_, err := client.Do(context.Background(), openaiRequest())
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen,
		client.BreakerState(providers.ProviderOpenAI, "gpt-4"))
	openaiAttempts := rt.attemptsFor("api.openai.com")

	// Second call fails fast on the open breaker and routes to the secondary.
	resp, err := client.Do(context.Background(), openaiRequest())
	require.NoError(t, err)
	assert.Equal(t, "failover response", resp.Content)
	assert.Equal(t, openaiAttempts, rt.attemptsFor("api.openai.com"),
		"open breaker must not allow another network attempt on the primary")
	assert.Equal(t, 1, rt.attemptsFor("api.anthropic.com"))
}

func TestDoReturnsBreakerErrorWithoutFailoverTarget(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(string, int) *http.Response {
			return jsonResponse(http.StatusServiceUnavailable, serverError)
		},
	}
	cfg := DefaultConfig()
	cfg.CircuitBreaker = circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
	client := newTestClient(t, cfg, rt)

	_, err := client.Do(context.Background(), openaiRequest())
	require.Error(t, err)

	_, err = client.Do(context.Background(), openaiRequest())
	require.Error(t, err)
	assert.True(t, llmerrors.IsCircuitOpen(err))
}

func TestHealthTracksOutcomesAndBreakerState(t *testing.T) {
	rt := &scriptedTransport{
		attempts: map[string]int{},
		respond: func(_ string, attempt int) *http.Response {
			if attempt == 1 {
				return jsonResponse(http.StatusOK, openaiSuccess)
			}
			return jsonResponse(http.StatusUnauthorized,
				`{"error": {"message": "bad key", "type": "invalid_api_key"}}`)
		},
	}
	client := newTestClient(t, nil, rt)

	_, err := client.Do(context.Background(), openaiRequest())
	require.NoError(t, err)
	_, err = client.Do(context.Background(), openaiRequest())
	require.Error(t, err)

	health := client.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "openai/gpt-4", health[0].Provider)
	assert.Equal(t, int64(2), health[0].Requests)
	assert.Equal(t, int64(1), health[0].Failures)
	assert.InDelta(t, 0.5, health[0].SuccessRate, 0.001)
	assert.Equal(t, "closed", health[0].BreakerState)
}

func TestApplyDefaultsPerOperation(t *testing.T) {
	client := &Client{config: DefaultConfig()}

	coherence := &transport.Request{Operation: transport.OpCoherence}
	client.applyDefaults(coherence)
	assert.Equal(t, int64(DefaultMaxTokens), coherence.MaxTokens)
	assert.Equal(t, DefaultCoherenceTemperature, coherence.Temperature)
	assert.Equal(t, DefaultCallTimeout, coherence.Timeout)

	synthesis := &transport.Request{Operation: transport.OpSynthesis, MaxTokens: 4096}
	client.applyDefaults(synthesis)
	assert.Equal(t, int64(4096), synthesis.MaxTokens)
	assert.Equal(t, DefaultSynthesisTemperature, synthesis.Temperature)
}

func TestNewClientRequiresProviders(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewClient(context.Background(), cfg, nil)
	require.Error(t, err)
}
