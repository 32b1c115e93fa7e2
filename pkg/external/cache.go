package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gel2mdt-server/internal/domain"
)

// CacheClient wraps Redis for poller tokens, lookup responses and job locks
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newCacheClientFromRedis(client, config.DefaultTTL), nil
}

func newCacheClientFromRedis(client *redis.Client, defaultTTL time.Duration) *CacheClient {
	return &CacheClient{redis: client, defaultTTL: defaultTTL}
}

type cachedEntry struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// GetJSON loads a cached value into v. The bool reports a hit.
func (c *CacheClient) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	var cached cachedEntry
	if err := json.Unmarshal(val, &cached); err != nil {
		// Corrupt entries are dropped and treated as a miss
		c.redis.Del(ctx, key)
		return false, nil
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return false, nil
	}
	if err := json.Unmarshal(cached.Data, v); err != nil {
		c.redis.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON caches v under key. A zero ttl uses the default.
func (c *CacheClient) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	now := time.Now()
	payload, err := json.Marshal(cachedEntry{Data: data, CachedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.redis.Set(ctx, key, payload, ttl).Err()
}

// Delete removes keys
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// AcquireLock takes a best-effort exclusive lock. The returned release func is nil
// when the lock is held elsewhere.
func (c *CacheClient) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := "gel2mdt:lock:" + name
	token := uuid.NewString()

	ok, err := c.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}

	release := func(ctx context.Context) error {
		current, err := c.redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != token {
			return nil
		}
		return c.redis.Del(ctx, key).Err()
	}
	return release, nil
}

// GetStats returns cache statistics
func (c *CacheClient) GetStats(ctx context.Context) (map[string]interface{}, error) {
	keyspace, err := c.redis.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis keyspace: %w", err)
	}

	return map[string]interface{}{
		"keyspace":   keyspace,
		"pool_stats": c.redis.PoolStats(),
	}, nil
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// tokenKey is the cache key of a CIP-API token for one identity
func tokenKey(identity string) string {
	hash := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("gel2mdt:token:%x", hash[:8])
}

// lookupKey is the cache key of a lookup response
func lookupKey(service Service, endpoint string) string {
	hash := sha256.Sum256([]byte(endpoint))
	return fmt.Sprintf("gel2mdt:%s:%x", service, hash[:8])
}
