package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores embeddings by key. Implementations treat backend failures as
// misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// MemoryCache is a size-bounded in-process cache with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, []float32]
}

// NewMemoryCache creates a MemoryCache holding up to size entries for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.lru.Get(key)
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) {
	c.lru.Add(key, vec)
}

const redisKeyPrefix = "ama:embedding:"

// RedisCache shares embeddings between replicas through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisCache wraps client. Entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, log: log}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("embedding cache read failed", "err", err)
		}
		return nil, false
	}
	vec, err := DecodeVector(b)
	if err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) {
	if err := c.client.Set(ctx, redisKeyPrefix+key, EncodeVector(vec), c.ttl).Err(); err != nil {
		c.log.Warn("embedding cache write failed", "err", err)
	}
}

// Name identifies Redis in readiness output.
func (c *RedisCache) Name() string { return "redis" }

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
