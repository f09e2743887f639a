package llm

import (
	"net/http"
	"time"

	"github.com/corvuslabs/corvus/internal/llm/circuitbreaker"
	"github.com/corvuslabs/corvus/internal/llm/providers"
	"github.com/corvuslabs/corvus/internal/llm/rescache"
	"github.com/corvuslabs/corvus/internal/llm/retry"
)

// HTTP client defaults.
const (
	DefaultHTTPTimeout        = 60 * time.Second
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
)

// Per-operation call defaults.
const (
	DefaultMaxTokens            = 2048
	DefaultAnalysisTemperature  = 0.0
	DefaultCoherenceTemperature = 0.1
	DefaultSynthesisTemperature = 0.3
	DefaultCallTimeout          = 90 * time.Second
)

// FailoverTarget names the secondary provider/model a primary routes to when
// its circuit breaker is open.
type FailoverTarget struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Config assembles the provider reliability layer.
type Config struct {
	// Providers maps provider names to their adapter settings.
	Providers map[string]providers.Config `json:"providers" yaml:"providers"`

	// Failover maps a primary provider name to its secondary. Requests that
	// fail fast on an open breaker are rerouted once to the secondary.
	Failover map[string]FailoverTarget `json:"failover" yaml:"failover"`

	// Retry controls the per-call retry policy.
	Retry retry.Config `json:"retry" yaml:"retry"`

	// CircuitBreaker controls the per provider/model breakers.
	CircuitBreaker circuitbreaker.Config `json:"circuit_breaker" yaml:"circuit_breaker"`

	// Cache controls the optional Redis response cache.
	Cache rescache.Config `json:"cache" yaml:"cache"`

	// RedactPrompts replaces prompt content with lengths in logs.
	RedactPrompts bool `json:"redact_prompts" yaml:"redact_prompts"`

	// HTTPTimeout bounds the underlying HTTP client; per-call deadlines
	// still apply on top of it.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client `json:"-" yaml:"-"`
}

// DefaultConfig returns a configuration with production-ready policies and
// no providers; callers must supply at least one provider.
func DefaultConfig() *Config {
	return &Config{
		Providers:      map[string]providers.Config{},
		Failover:       map[string]FailoverTarget{},
		Retry:          retry.DefaultConfig(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Cache:          rescache.Config{},
		RedactPrompts:  true,
		HTTPTimeout:    DefaultHTTPTimeout,
	}
}
