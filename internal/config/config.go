// Package config loads corvus configuration from XDG paths, a project-level
// override file, and environment variables, and translates it into the
// explicit per-component config structs. Nothing here is a process-wide
// singleton; callers load once and pass values down.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/corvuslabs/corvus/internal/llm"
	"github.com/corvuslabs/corvus/internal/llm/circuitbreaker"
	"github.com/corvuslabs/corvus/internal/llm/providers"
	"github.com/corvuslabs/corvus/internal/llm/rescache"
	"github.com/corvuslabs/corvus/internal/llm/retry"
	"github.com/corvuslabs/corvus/internal/orchestrator"
	"github.com/corvuslabs/corvus/internal/valcache"
)

// projectConfigName is the per-project override file searched upward from
// the working directory.
const projectConfigName = ".corvus.yaml"

// Config holds all corvus configuration.
type Config struct {
	Data DataConfig `mapstructure:"data"`
	Run  RunConfig  `mapstructure:"run"`
	LLM  LLMConfig  `mapstructure:"llm"`
}

// DataConfig locates the on-disk state.
type DataConfig struct {
	// Dir is the root for the registry database, artifact store, validation
	// cache, and audit trail.
	Dir string `mapstructure:"dir"`
}

// RegistryPath returns the sqlite registry location.
func (d DataConfig) RegistryPath() string { return filepath.Join(d.Dir, "registry.db") }

// ArtifactsDir returns the artifact store root.
func (d DataConfig) ArtifactsDir() string { return filepath.Join(d.Dir, "artifacts") }

// CacheDir returns the validation cache entry directory.
func (d DataConfig) CacheDir() string { return filepath.Join(d.Dir, "valcache") }

// AuditPath returns the audit trail location.
func (d DataConfig) AuditPath() string { return filepath.Join(d.Dir, "audit.jsonl") }

// RunConfig holds per-run orchestration settings.
type RunConfig struct {
	Provider             string  `mapstructure:"provider"`
	Model                string  `mapstructure:"model"`
	Concurrency          int     `mapstructure:"concurrency"`
	FailureRateThreshold float64 `mapstructure:"failure_rate_threshold"`
	Tolerance            float64 `mapstructure:"tolerance"`
	EvidencePass         bool    `mapstructure:"evidence_pass"`

	// CacheHighThreshold and CacheMediumThreshold band cache efficiency.
	CacheHighThreshold   float64 `mapstructure:"cache_high_threshold"`
	CacheMediumThreshold float64 `mapstructure:"cache_medium_threshold"`

	// CacheMaxAgeHours is the default age bound for cache cleanup.
	CacheMaxAgeHours int `mapstructure:"cache_max_age_hours"`
}

// ProviderConfig holds one provider adapter's settings.
type ProviderConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	APIKey   string            `mapstructure:"api_key"`
	Headers  map[string]string `mapstructure:"headers"`
}

// FailoverConfig names the secondary for a primary provider.
type FailoverConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// RetryConfig mirrors the retry policy knobs.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	RateLimitDelay  time.Duration `mapstructure:"rate_limit_delay"`
	UseJitter       bool          `mapstructure:"use_jitter"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// BreakerConfig mirrors the circuit breaker knobs.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// ResponseCacheConfig mirrors the redis response cache knobs.
type ResponseCacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// LLMConfig holds the provider reliability layer settings.
type LLMConfig struct {
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Failover      map[string]FailoverConfig `mapstructure:"failover"`
	Retry         RetryConfig               `mapstructure:"retry"`
	Breaker       BreakerConfig             `mapstructure:"circuit_breaker"`
	ResponseCache ResponseCacheConfig       `mapstructure:"response_cache"`
	RedactPrompts bool                      `mapstructure:"redact_prompts"`
	HTTPTimeout   time.Duration             `mapstructure:"http_timeout"`
}

// Load reads configuration with the usual precedence, highest first:
// environment variables, project config (.corvus.yaml found upward from the
// working directory), user config (~/.config/corvus/config.yaml), defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if project := findProjectConfig(); project != "" {
		pv := viper.New()
		pv.SetConfigFile(project)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath reads configuration from one explicit file, for --config and
// tests.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for name, p := range cfg.LLM.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		cfg.LLM.Providers[name] = p
	}
	return cfg, nil
}

// bindEnv maps the conventional provider key variables.
func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	_ = v.BindEnv("llm.providers.openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.providers.anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.providers.google.api_key", "GOOGLE_API_KEY")
	_ = v.BindEnv("data.dir", "CORVUS_DATA_DIR")
}

// setDefaults seeds viper with the component defaults so a bare config file
// still yields working policies.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", defaultDataDir())

	v.SetDefault("run.provider", "openai")
	v.SetDefault("run.model", "gpt-4o")
	v.SetDefault("run.concurrency", orchestrator.DefaultConcurrency)
	v.SetDefault("run.failure_rate_threshold", orchestrator.DefaultFailureRateThreshold)
	v.SetDefault("run.tolerance", orchestrator.DefaultTolerance)
	v.SetDefault("run.evidence_pass", false)
	v.SetDefault("run.cache_high_threshold", valcache.DefaultHighThreshold)
	v.SetDefault("run.cache_medium_threshold", valcache.DefaultMediumThreshold)
	v.SetDefault("run.cache_max_age_hours", 24*30)

	rc := retry.DefaultConfig()
	v.SetDefault("llm.retry.max_attempts", rc.MaxAttempts)
	v.SetDefault("llm.retry.initial_interval", rc.InitialInterval)
	v.SetDefault("llm.retry.max_interval", rc.MaxInterval)
	v.SetDefault("llm.retry.multiplier", rc.Multiplier)
	v.SetDefault("llm.retry.rate_limit_delay", rc.RateLimitDelay)
	v.SetDefault("llm.retry.use_jitter", rc.UseJitter)
	v.SetDefault("llm.retry.max_elapsed_time", rc.MaxElapsedTime)

	bc := circuitbreaker.DefaultConfig()
	v.SetDefault("llm.circuit_breaker.failure_threshold", bc.FailureThreshold)
	v.SetDefault("llm.circuit_breaker.success_threshold", bc.SuccessThreshold)
	v.SetDefault("llm.circuit_breaker.open_timeout", bc.OpenTimeout)

	v.SetDefault("llm.response_cache.enabled", false)
	v.SetDefault("llm.response_cache.redis_addr", "localhost:6379")
	v.SetDefault("llm.response_cache.ttl", time.Hour)

	v.SetDefault("llm.redact_prompts", true)
	v.SetDefault("llm.http_timeout", llm.DefaultHTTPTimeout)
}

// ClientConfig translates the loaded settings into the reliability layer's
// config.
func (c *Config) ClientConfig() *llm.Config {
	out := llm.DefaultConfig()

	for name, p := range c.LLM.Providers {
		out.Providers[name] = providers.Config{
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Headers:  p.Headers,
		}
	}
	for primary, target := range c.LLM.Failover {
		out.Failover[primary] = llm.FailoverTarget{
			Provider: target.Provider,
			Model:    target.Model,
		}
	}

	out.Retry = retry.Config{
		MaxAttempts:     c.LLM.Retry.MaxAttempts,
		InitialInterval: c.LLM.Retry.InitialInterval,
		MaxInterval:     c.LLM.Retry.MaxInterval,
		Multiplier:      c.LLM.Retry.Multiplier,
		RateLimitDelay:  c.LLM.Retry.RateLimitDelay,
		UseJitter:       c.LLM.Retry.UseJitter,
		MaxElapsedTime:  c.LLM.Retry.MaxElapsedTime,
	}
	out.CircuitBreaker = circuitbreaker.Config{
		FailureThreshold: c.LLM.Breaker.FailureThreshold,
		SuccessThreshold: c.LLM.Breaker.SuccessThreshold,
		OpenTimeout:      c.LLM.Breaker.OpenTimeout,
	}
	out.Cache = rescache.Config{
		Enabled:       c.LLM.ResponseCache.Enabled,
		RedisAddr:     c.LLM.ResponseCache.RedisAddr,
		RedisPassword: c.LLM.ResponseCache.RedisPassword,
		RedisDB:       c.LLM.ResponseCache.RedisDB,
		TTL:           c.LLM.ResponseCache.TTL,
		MaxAge:        c.LLM.ResponseCache.MaxAge,
	}
	out.RedactPrompts = c.LLM.RedactPrompts
	out.HTTPTimeout = c.LLM.HTTPTimeout
	return out
}

// OrchestratorConfig translates the run settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Provider:             c.Run.Provider,
		Model:                c.Run.Model,
		Concurrency:          c.Run.Concurrency,
		FailureRateThreshold: c.Run.FailureRateThreshold,
		Tolerance:            c.Run.Tolerance,
		EvidencePass:         c.Run.EvidencePass,
		CacheHighThreshold:   c.Run.CacheHighThreshold,
		CacheMediumThreshold: c.Run.CacheMediumThreshold,
	}
}

// userConfigDir returns the XDG config directory for corvus.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corvus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "corvus")
	}
	return filepath.Join(home, ".config", "corvus")
}

// defaultDataDir keeps state under the XDG data home.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "corvus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".corvus")
	}
	return filepath.Join(home, ".local", "share", "corvus")
}

// findProjectConfig searches for .corvus.yaml upward from the working
// directory.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}
