package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

const responsePreviewLimit = 200

// loggingMiddleware captures structured logs for the model call lifecycle
// with configurable redaction of prompt content.
type loggingMiddleware struct {
	logger        *slog.Logger
	redactPrompts bool
}

// newLoggingMiddleware creates the observability middleware for the chain.
func newLoggingMiddleware(logger *slog.Logger, redactPrompts bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	lm := &loggingMiddleware{
		logger:        logger.With("component", "llm"),
		redactPrompts: redactPrompts,
	}
	return lm.middleware
}

func (m *loggingMiddleware) middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		requestID := uuid.New().String()
		m.logRequest(req, requestID)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if err != nil {
			m.logger.Error("model request failed",
				"request_id", requestID,
				"provider", req.Provider,
				"model", req.Model,
				"operation", req.Operation,
				"run_id", req.RunID,
				"duration_ms", duration.Milliseconds(),
				"error_type", string(llmerrors.Classify(err)),
				"error", err.Error())
			return resp, err
		}

		fields := []any{
			"request_id", requestID,
			"provider", req.Provider,
			"model", req.Model,
			"operation", req.Operation,
			"run_id", req.RunID,
			"duration_ms", duration.Milliseconds(),
			"from_cache", resp.FromCache,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"total_tokens", resp.Usage.TotalTokens,
			"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
		}
		if m.redactPrompts {
			fields = append(fields, "response_length", len(resp.Content))
		} else {
			content := resp.Content
			if len(content) > responsePreviewLimit {
				content = content[:responsePreviewLimit] + "..."
			}
			fields = append(fields, "response_preview", content)
		}
		m.logger.Info("model request completed", fields...)

		return resp, nil
	})
}

func (m *loggingMiddleware) logRequest(req *transport.Request, requestID string) {
	fields := []any{
		"request_id", requestID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
		"run_id", req.RunID,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
		"timeout_seconds", req.Timeout.Seconds(),
	}
	if m.redactPrompts {
		fields = append(fields, "prompt_length", len(req.Prompt))
		if req.SystemPrompt != "" {
			fields = append(fields, "system_prompt_length", len(req.SystemPrompt))
		}
	} else {
		fields = append(fields, "prompt", req.Prompt)
		if req.SystemPrompt != "" {
			fields = append(fields, "system_prompt", req.SystemPrompt)
		}
	}
	m.logger.Info("model request started", fields...)
}
