// Package providers implements the adapters that translate normalized model
// requests into provider-specific HTTP calls for OpenAI, Anthropic, and
// Google, and parse their responses back into the normalized form.
package providers

import (
	"fmt"

	"github.com/corvuslabs/corvus/internal/llm/llmerrors"
	"github.com/corvuslabs/corvus/internal/llm/transport"
)

// Supported provider identifiers. These constants must match the provider
// names used in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds the per-provider settings the adapters need.
type Config struct {
	// Endpoint overrides the provider's production API base URL.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// APIKey authenticates requests to the provider.
	APIKey string `json:"api_key" yaml:"api_key"`
	// Headers are additional headers set on every request.
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// NewRouter creates a router with configured provider adapters.
func NewRouter(configs map[string]Config) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter)

	for name, cfg := range configs {
		var adapter transport.ProviderAdapter
		switch name {
		case ProviderOpenAI:
			adapter = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapter = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapter = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	return &router{adapters: adapters}, nil
}

// router implements transport.Router with a provider adapter registry.
type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter for the given provider name. Returns an error if
// the provider is not configured or unknown.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
