// Package sessioncache provides a best-effort session_code -> session_id
// lookup cache backed by Redis. It exists purely as an accelerator: every
// caller must be prepared for a cache miss and fall back to the Ledger
// Store, since the cache is never the source of truth.
package sessioncache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

const keyPrefix = "zecmeter:session_code:"

// Cache is the interface consumed by the session engine, so tests can
// substitute a no-op or in-memory implementation without pulling in Redis.
type Cache interface {
	Get(ctx context.Context, code string) (sessionID string, ok bool, err error)
	Set(ctx context.Context, code, sessionID string) error
}

// RedisCache is the production Cache backed by github.com/redis/go-redis/v9.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string) *RedisCache {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		ttl:    defaultTTL,
	}
}

func (c *RedisCache) Get(ctx context.Context, code string) (string, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+code).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, code, sessionID string) error {
	return c.client.Set(ctx, keyPrefix+code, sessionID, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache always misses. Used when the configured Redis URL is empty
// (config.Load fills in a default when REDIS_URL is unset) — the session
// engine degrades to store-only lookups with no behavior change.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, code string) (string, bool, error) { return "", false, nil }
func (NoopCache) Set(ctx context.Context, code, sessionID string) error     { return nil }
