// Package rescache provides Redis-based caching middleware for provider
// responses, keyed by idempotency key. It deduplicates identical calls
// within a run and degrades gracefully to a pass-through when Redis is
// unavailable.
package rescache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corvuslabs/corvus/internal/llm/transport"
)

const (
	defaultPoolSize   = 10
	connectionTimeout = 5 * time.Second

	// Idempotency key constraints.
	maxIdempotencyKeyLength = 256
	minIdempotencyKeyLength = 8

	defaultTTL = 24 * time.Hour
)

// Config controls the response cache.
type Config struct {
	// Enabled turns the cache on. Disabled caches pass every request through.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// RedisAddr is the host:port of the Redis server.
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	// RedisPassword authenticates the connection; empty for none.
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	// RedisDB selects the logical database.
	RedisDB int `json:"redis_db" yaml:"redis_db"`
	// TTL bounds how long responses stay cached.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// MaxAge rejects entries older than this on read; zero disables.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
}

// RedisClient is the subset of redis.Client the cache uses. Narrowed for
// testability; production passes *redis.Client.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// entry is the serialized form of a cached response.
type entry struct {
	Key                string                    `json:"key"`
	Operation          transport.OperationType   `json:"operation"`
	Content            string                    `json:"content"`
	ProviderRequestIDs []string                  `json:"provider_request_ids,omitempty"`
	Usage              transport.NormalizedUsage `json:"usage"`
	StoredAtMs         int64                     `json:"stored_at_ms"`
}

// Cache implements response caching over Redis.
type Cache struct {
	client  RedisClient
	ttl     time.Duration
	maxAge  time.Duration
	enabled bool

	logger *slog.Logger
	stats  *cacheStats
}

// New creates a response cache. If client is nil and caching is enabled, a
// Redis client is created from cfg; connection failures disable the cache
// rather than failing the caller.
func New(ctx context.Context, cfg Config, client RedisClient, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rescache")

	if client == nil && cfg.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: defaultPoolSize,
		})

		timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
		if err := rc.Ping(timeoutCtx).Err(); err != nil {
			logger.Warn("redis connection failed, response cache disabled", "error", err)
			cfg.Enabled = false
		}
		client = rc
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Cache{
		client:  client,
		ttl:     ttl,
		maxAge:  cfg.MaxAge,
		enabled: cfg.Enabled,
		logger:  logger,
		stats:   &cacheStats{},
	}
}

// buildKey constructs the cache key "llm:{operation}:{idemkey}" after
// validating the idempotency key.
func buildKey(req *transport.Request) (string, error) {
	if req.Operation == "" {
		return "", fmt.Errorf("operation is required")
	}
	if req.IdempotencyKey == "" {
		return "", fmt.Errorf("idempotency key is required for caching")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return "", fmt.Errorf("idempotency key too long (max %d chars): %d",
			maxIdempotencyKeyLength, len(req.IdempotencyKey))
	}
	if len(req.IdempotencyKey) < minIdempotencyKeyLength {
		return "", fmt.Errorf("idempotency key too short (min %d chars): %d",
			minIdempotencyKeyLength, len(req.IdempotencyKey))
	}
	return fmt.Sprintf("llm:%s:%s", req.Operation, req.IdempotencyKey), nil
}

// Middleware returns the transport middleware serving cached responses.
// Cache failures never fail the request; they log and fall through to the
// next handler.
func (c *Cache) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !c.enabled || c.client == nil || req.IdempotencyKey == "" {
				return next.Handle(ctx, req)
			}

			key, err := buildKey(req)
			if err != nil {
				c.logger.Warn("cache key validation failed", "error", err)
				return next.Handle(ctx, req)
			}

			if resp := c.lookup(ctx, key, req); resp != nil {
				c.stats.hits.Add(1)
				c.logger.Debug("response cache hit",
					"key", key,
					"provider", req.Provider,
					"model", req.Model,
					"operation", req.Operation)
				return resp, nil
			}
			c.stats.misses.Add(1)

			resp, err := next.Handle(ctx, req)
			if err != nil {
				// Only successful responses are cached.
				return nil, err
			}

			if resp != nil && !resp.FromCache {
				if storeErr := c.store(ctx, key, req, resp); storeErr != nil {
					c.stats.errors.Add(1)
					c.logger.Warn("cache set error", "error", storeErr, "key", key)
				}
			}
			return resp, nil
		})
	}
}

// lookup fetches and validates a cached entry. Corrupt or stale entries are
// deleted and reported as a miss.
func (c *Cache) lookup(ctx context.Context, key string, req *transport.Request) *transport.Response {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.stats.errors.Add(1)
			c.logger.Warn("cache get error", "error", err, "key", key)
		}
		return nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.evict(ctx, key, "undecodable entry")
		return nil
	}
	if e.Key != key || e.Operation != req.Operation {
		c.evict(ctx, key, "key mismatch")
		return nil
	}
	if c.maxAge > 0 {
		age := time.Since(time.UnixMilli(e.StoredAtMs))
		if age < 0 || age > c.maxAge {
			c.evict(ctx, key, "stale entry")
			return nil
		}
	}

	return &transport.Response{
		Content:            e.Content,
		ProviderRequestIDs: e.ProviderRequestIDs,
		Usage:              e.Usage,
		FromCache:          true,
	}
}

// store writes a successful response under the cache key.
func (c *Cache) store(ctx context.Context, key string, req *transport.Request, resp *transport.Response) error {
	e := entry{
		Key:                key,
		Operation:          req.Operation,
		Content:            resp.Content,
		ProviderRequestIDs: resp.ProviderRequestIDs,
		Usage:              resp.Usage,
		StoredAtMs:         time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// evict removes an invalid entry so subsequent calls repopulate it.
func (c *Cache) evict(ctx context.Context, key, reason string) {
	c.stats.errors.Add(1)
	c.logger.Warn("evicting invalid cache entry", "key", key, "reason", reason)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache eviction error", "error", err, "key", key)
	}
}
