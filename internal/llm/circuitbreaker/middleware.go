package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

// Registry maintains one circuit breaker per provider/model pair and exposes
// the middleware that enforces them.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*breaker

	config Config
	logger *slog.Logger
}

// NewRegistry creates a breaker registry with the given policy.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*breaker),
		config:   cfg,
		logger:   logger.With("component", "circuitbreaker"),
	}
}

// breakerKey identifies a breaker by provider and model. Breakers are scoped
// per pair so one overloaded model does not trip the whole provider.
func breakerKey(provider, model string) string { return provider + "/" + model }

// breakerFor returns the breaker for a provider/model pair, creating it on
// first use.
func (r *Registry) breakerFor(provider, model string) *breaker {
	key := breakerKey(provider, model)

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = newBreaker(r.config, r.logger.With("breaker", key))
	r.breakers[key] = b
	return b
}

// StateFor reports the current state of the breaker for a provider/model
// pair. Pairs that have never been called report closed.
func (r *Registry) StateFor(provider, model string) State {
	r.mu.RLock()
	b, ok := r.breakers[breakerKey(provider, model)]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.currentState()
}

// Snapshot returns per-pair metrics for every breaker the registry has seen.
func (r *Registry) Snapshot() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Metrics, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.snapshot()
	}
	return out
}

// Middleware returns the transport middleware enforcing circuit breaking.
// When the breaker is open the request fails immediately with a
// CircuitBreakerError and no network attempt is made.
func (r *Registry) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			b := r.breakerFor(req.Provider, req.Model)

			release, probe, err := b.allow(req.Provider, req.Model)
			if err != nil {
				return nil, err
			}
			defer release()

			if probe {
				r.logger.Debug("admitting half-open probe",
					"provider", req.Provider, "model", req.Model)
			}

			resp, err := next.Handle(ctx, req)
			if err != nil {
				// Terminal request errors say nothing about provider health;
				// only transient failures count against the breaker.
				if llmerrors.IsRetryableError(err) || llmerrors.Classify(err) == llmerrors.ErrorTypeTimeout {
					b.recordFailure()
				}
				return nil, err
			}

			b.recordSuccess()
			return resp, nil
		})
	}
}
