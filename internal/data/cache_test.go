package data

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestBuildCacheKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{CacheKeySync, []string{"last"}, "sortledger:sync:last"},
		{CacheKeyBreaker, []string{"primary"}, "sortledger:breaker:primary"},
		{CacheKeyBreaker, nil, "sortledger:breaker"},
		{"a", []string{"b", "c"}, "sortledger:a:b:c"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildCacheKey(tt.prefix, tt.parts...))
		})
	}
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, _ := newTestRedis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewCacheClient(rdb)
	ctx := context.Background()
	key := BuildCacheKey("test", "value")

	require.NoError(t, cache.Set(ctx, key, cachedValue{Name: "chute-7", Count: 3}, time.Minute))

	var got cachedValue
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, cachedValue{Name: "chute-7", Count: 3}, got)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, cache.Get(ctx, key, &got), ErrCacheNotFound)
}

func TestRedisCache_NotFound(t *testing.T) {
	mr, _ := newTestRedis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var got cachedValue
	err := NewCacheClient(rdb).Get(context.Background(), "sortledger:missing", &got)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestRedisCache_InvalidJSON(t *testing.T) {
	mr, _ := newTestRedis(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, mr.Set("sortledger:broken", "{not json"))

	var got cachedValue
	err := NewCacheClient(rdb).Get(context.Background(), "sortledger:broken", &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheNotFound)
}

func TestRedisCache_NilClient(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	assert.ErrorIs(t, cache.Set(ctx, "k", 1, time.Second), ErrCacheUnavailable)
	var v int
	assert.ErrorIs(t, cache.Get(ctx, "k", &v), ErrCacheUnavailable)
}
