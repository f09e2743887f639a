// Package llm provides a resilient HTTP client for model providers. It
// composes the transport chain from logging, response caching, circuit
// breaking, and retry middleware, and routes around open breakers to a
// configured secondary provider.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/corvuslabs/corvus/internal/domain"
	"github.com/corvuslabs/corvus/internal/llm/circuitbreaker"
	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/providers"
	"github.com/corvuslabs/corvus/internal/llm/rescache"
	"github.com/corvuslabs/corvus/internal/llm/retry"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

// Client executes model calls through the full reliability chain.
type Client struct {
	config   *Config
	handler  transport.Handler
	breakers *circuitbreaker.Registry
	retrier  *retry.Retrier
	cache    *rescache.Cache
	logger   *slog.Logger
	health   *healthTracker
}

// NewClient builds the middleware chain and returns a ready client.
// Chain order, outermost first: logging, response cache, circuit breaker,
// retry, HTTP core. The breaker sits outside retry so an open circuit fails
// fast before any attempt is made.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpTransport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          DefaultMaxIdleConns,
			IdleConnTimeout:       DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout:   DefaultTLSTimeoutSeconds * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Transport: httpTransport, Timeout: timeout}
	}

	coreHandler := transport.NewHTTPHandler(httpClient, router)

	retrier, err := retry.New(cfg.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker, logger)
	cache := rescache.New(ctx, cfg.Cache, nil, logger)

	handler := transport.Chain(coreHandler,
		newLoggingMiddleware(logger, cfg.RedactPrompts),
		cache.Middleware(),
		breakers.Middleware(),
		retrier.Middleware(),
	)

	return &Client{
		config:   cfg,
		handler:  handler,
		breakers: breakers,
		retrier:  retrier,
		cache:    cache,
		logger:   logger.With("component", "llm"),
		health:   newHealthTracker(),
	}, nil
}

// Do executes one model call. An open circuit on the primary reroutes the
// request once to the configured secondary provider; every other failure is
// returned to the caller after the chain has exhausted its policies.
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	c.applyDefaults(req)

	resp, err := c.handler.Handle(ctx, req)
	if err == nil {
		c.health.record(req.Provider, req.Model, true)
		return resp, nil
	}
	if !llmerrors.IsCircuitOpen(err) {
		c.health.record(req.Provider, req.Model, false)
		return nil, err
	}

	target, ok := c.config.Failover[req.Provider]
	if !ok {
		return nil, err
	}

	c.logger.Warn("primary circuit open, failing over",
		"primary_provider", req.Provider,
		"primary_model", req.Model,
		"secondary_provider", target.Provider,
		"secondary_model", target.Model,
		"run_id", req.RunID)

	failoverReq := req.Clone()
	failoverReq.Provider = target.Provider
	failoverReq.Model = target.Model

	resp, ferr := c.handler.Handle(ctx, failoverReq)
	if ferr != nil {
		if !llmerrors.IsCircuitOpen(ferr) {
			c.health.record(failoverReq.Provider, failoverReq.Model, false)
		}
		return nil, fmt.Errorf("failover to %s/%s failed: %w", target.Provider, target.Model, ferr)
	}
	c.health.record(failoverReq.Provider, failoverReq.Model, true)
	return resp, nil
}

// applyDefaults fills unset generation parameters per operation type.
func (c *Client) applyDefaults(req *transport.Request) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultCallTimeout
	}
	if req.Temperature == 0 {
		switch req.Operation {
		case transport.OpCoherence:
			req.Temperature = DefaultCoherenceTemperature
		case transport.OpSynthesis:
			req.Temperature = DefaultSynthesisTemperature
		case transport.OpAnalysis:
			req.Temperature = DefaultAnalysisTemperature
		}
	}
}

// RetryStats returns retry middleware statistics.
func (c *Client) RetryStats() retry.Stats { return c.retrier.Stats() }

// CacheStats returns response cache statistics.
func (c *Client) CacheStats() rescache.Stats { return c.cache.Stats() }

// BreakerState reports the breaker state for a provider/model pair.
func (c *Client) BreakerState(provider, model string) circuitbreaker.State {
	return c.breakers.StateFor(provider, model)
}

// Health returns per provider/model health snapshots for the run report,
// sorted by provider/model key.
func (c *Client) Health() []domain.ProviderHealth {
	return c.health.snapshot(c.breakers)
}

// healthTracker accumulates per provider/model outcomes. Breaker rejections
// are not counted; they make no network attempt.
type healthTracker struct {
	mu      sync.Mutex
	entries map[string]*healthEntry
}

type healthEntry struct {
	provider string
	model    string
	requests int64
	failures int64
}

func newHealthTracker() *healthTracker {
	return &healthTracker{entries: make(map[string]*healthEntry)}
}

func (h *healthTracker) record(provider, model string, ok bool) {
	key := provider + "/" + model
	h.mu.Lock()
	defer h.mu.Unlock()
	e, exists := h.entries[key]
	if !exists {
		e = &healthEntry{provider: provider, model: model}
		h.entries[key] = e
	}
	e.requests++
	if !ok {
		e.failures++
	}
}

func (h *healthTracker) snapshot(breakers *circuitbreaker.Registry) []domain.ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.ProviderHealth, 0, len(h.entries))
	for key, e := range h.entries {
		successRate := 0.0
		if e.requests > 0 {
			successRate = float64(e.requests-e.failures) / float64(e.requests)
		}
		out = append(out, domain.ProviderHealth{
			Provider:     key,
			Requests:     e.requests,
			Failures:     e.failures,
			SuccessRate:  successRate,
			BreakerState: breakers.StateFor(e.provider, e.model).String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
