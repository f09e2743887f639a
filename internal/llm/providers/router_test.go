package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

func TestRouterPicksConfiguredProviders(t *testing.T) {
	router, err := NewRouter(map[string]Config{
		ProviderOpenAI:    {APIKey: "sk-test"},
		ProviderAnthropic: {APIKey: "ak-test"},
		ProviderGoogle:    {APIKey: "gk-test"},
	})
	require.NoError(t, err)

	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
		adapter, err := router.Pick(name, "any-model")
		require.NoError(t, err)
		assert.Equal(t, name, adapter.Name())
	}
}

func TestRouterRejectsUnknownProvider(t *testing.T) {
	router, err := NewRouter(map[string]Config{ProviderOpenAI: {APIKey: "sk-test"}})
	require.NoError(t, err)

	_, err = router.Pick("mistral", "mistral-large")
	require.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func TestRouterRejectsUnknownProviderInConfig(t *testing.T) {
	_, err := NewRouter(map[string]Config{"cohere": {APIKey: "ck-test"}})
	require.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func analysisRequest() *transport.Request {
	return &transport.Request{
		Operation:      transport.OpAnalysis,
		Provider:       ProviderOpenAI,
		Model:          "gpt-4",
		SystemPrompt:   "You extract structured scores.",
		Prompt:         "Document: hello world",
		MaxTokens:      1024,
		Temperature:    0.0,
		IdempotencyKey: "run-1/doc-1",
	}
}

func TestOpenAIBuildRequest(t *testing.T) {
	adapter := NewOpenAIAdapter(Config{APIKey: "sk-test", Headers: map[string]string{"X-Org": "corvus"}})
	req := analysisRequest()

	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "POST", httpReq.Method)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))
	assert.Equal(t, "run-1/doc-1", httpReq.Header.Get("Idempotency-Key"))
	assert.Equal(t, "corvus", httpReq.Header.Get("X-Org"))

	raw, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "gpt-4", body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "Document: hello world", body.Messages[1].Content)
}

func TestAnthropicBuildUsesTopLevelSystem(t *testing.T) {
	adapter := NewAnthropicAdapter(Config{APIKey: "ak-test"})
	req := analysisRequest()
	req.Provider = ProviderAnthropic
	req.Model = "claude-sonnet"

	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", httpReq.URL.String())
	assert.Equal(t, "ak-test", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", httpReq.Header.Get("anthropic-version"))

	raw, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "You extract structured scores.", body["system"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
}

func TestGoogleBuildEmbedsModelAndKey(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "gk-test"})
	req := analysisRequest()
	req.Provider = ProviderGoogle
	req.Model = "gemini-pro"

	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)

	url := httpReq.URL.String()
	assert.Contains(t, url, "/models/gemini-pro:generateContent")
	assert.Contains(t, url, "key=gk-test")

	raw, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Contains(t, body, "contents")
	assert.Contains(t, body, "systemInstruction")
}

func httpResponse(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestOpenAIParseSuccess(t *testing.T) {
	adapter := NewOpenAIAdapter(Config{APIKey: "sk-test"})
	resp, err := adapter.Parse(httpResponse(http.StatusOK, `{
		"id": "chatcmpl-1",
		"model": "gpt-4",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"score\": 4}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
	}`, map[string]string{"x-request-id": "req-abc"}))
	require.NoError(t, err)

	assert.Equal(t, `{"score": 4}`, resp.Content)
	assert.Equal(t, []string{"req-abc"}, resp.ProviderRequestIDs)
	assert.Equal(t, int64(100), resp.Usage.PromptTokens)
	assert.Equal(t, int64(120), resp.Usage.TotalTokens)
}

func TestAnthropicParseSuccess(t *testing.T) {
	adapter := NewAnthropicAdapter(Config{APIKey: "ak-test"})
	resp, err := adapter.Parse(httpResponse(http.StatusOK, `{
		"id": "msg-1",
		"content": [{"type": "text", "text": "coherent"}],
		"model": "claude-sonnet",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 50, "output_tokens": 10}
	}`, nil))
	require.NoError(t, err)

	assert.Equal(t, "coherent", resp.Content)
	assert.Equal(t, int64(60), resp.Usage.TotalTokens)
}

func TestGoogleParseSuccess(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "gk-test"})
	resp, err := adapter.Parse(httpResponse(http.StatusOK, `{
		"candidates": [{"content": {"parts": [{"text": "narrative"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 30, "candidatesTokenCount": 5, "totalTokenCount": 35}
	}`, nil))
	require.NoError(t, err)

	assert.Equal(t, "narrative", resp.Content)
	assert.Equal(t, int64(35), resp.Usage.TotalTokens)
}

func TestOpenAIParseRateLimitCarriesRetryAfter(t *testing.T) {
	adapter := NewOpenAIAdapter(Config{APIKey: "sk-test"})
	_, err := adapter.Parse(httpResponse(http.StatusTooManyRequests,
		`{"error": {"message": "Rate limit reached", "type": "rate_limit_error", "code": "rate_limit_exceeded"}}`,
		map[string]string{"Retry-After": "21"}))
	require.Error(t, err)

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, provErr.Type)
	assert.Equal(t, 21, provErr.RetryAfter)
	assert.True(t, llmerrors.IsRateLimitError(err))
	assert.True(t, llmerrors.IsRetryableError(err))
}

func TestAnthropicParseAuthErrorIsTerminal(t *testing.T) {
	adapter := NewAnthropicAdapter(Config{APIKey: "bad-key"})
	_, err := adapter.Parse(httpResponse(http.StatusUnauthorized,
		`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`, nil))
	require.Error(t, err)

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeAuth, provErr.Type)
	assert.False(t, llmerrors.IsRetryableError(err))
}

func TestGoogleParseUnstructuredErrorBody(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "gk-test"})
	_, err := adapter.Parse(httpResponse(http.StatusServiceUnavailable, "upstream connect error", nil))
	require.Error(t, err)

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeProvider, provErr.Type)
	assert.Equal(t, "upstream connect error", provErr.Message)
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		want       llmerrors.ErrorType
	}{
		{"rate limit by code", 400, "rate_limit_exceeded", llmerrors.ErrorTypeRateLimit},
		{"rate limit by status", 429, "", llmerrors.ErrorTypeRateLimit},
		{"timeout by code", 200, "request_timeout", llmerrors.ErrorTypeTimeout},
		{"auth by status", 401, "", llmerrors.ErrorTypeAuth},
		{"permission by status", 403, "", llmerrors.ErrorTypePermission},
		{"quota by code", 403, "quota_exceeded", llmerrors.ErrorTypeQuota},
		{"validation by status", 400, "", llmerrors.ErrorTypeValidation},
		{"provider by status", 503, "", llmerrors.ErrorTypeProvider},
		{"provider by high status", 599, "", llmerrors.ErrorTypeProvider},
		{"unknown", 418, "", llmerrors.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyErrorType(tt.statusCode, tt.errorCode))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, 0, retryAfterSeconds(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30, retryAfterSeconds(h))

	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	assert.Equal(t, 0, retryAfterSeconds(h))

	h.Set("Retry-After", "-5")
	assert.Equal(t, 0, retryAfterSeconds(h))
}
