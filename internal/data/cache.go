package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key prefixes.
const (
	// CacheKeyPrefix namespaces every key written by this service.
	CacheKeyPrefix = "sortledger"
	// CacheKeyBreaker holds the breaker snapshot hash: sortledger:breaker:{name}
	CacheKeyBreaker = "breaker"
	// CacheKeySync holds sync diagnostics: sortledger:sync:last
	CacheKeySync = "sync"
)

// Cache TTLs.
const (
	// TTLSyncReport is how long the last sync report stays visible.
	TTLSyncReport = 24 * time.Hour
)

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// ErrCacheUnavailable is returned when no Redis client is configured.
var ErrCacheUnavailable = errors.New("cache: redis client is nil")

// CacheClient stores JSON values with a TTL.
type CacheClient interface {
	// Get deserializes the value at key into dest. Returns ErrCacheNotFound
	// if the key doesn't exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value as JSON with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// redisCache is the Redis-based implementation of CacheClient.
type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a new Redis-based cache client.
// If the Redis client is nil, cache operations return ErrCacheUnavailable.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrCacheUnavailable
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return ErrCacheUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

// BuildCacheKey constructs a namespaced cache key.
//   - BuildCacheKey(CacheKeySync, "last") -> "sortledger:sync:last"
func BuildCacheKey(prefix string, parts ...string) string {
	key := CacheKeyPrefix + ":" + prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
