// Package cache keeps the pool list in Redis between refresh cycles.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mx-liquidity/internal/config"
	"mx-liquidity/internal/storage"
)

// ErrCacheMiss is returned when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

const poolsKey = "pools"

// PoolCache caches the ordered pool list.
type PoolCache interface {
	GetPools(ctx context.Context) ([]storage.Pool, error)
	SetPools(ctx context.Context, pools []storage.Pool) error
	Invalidate(ctx context.Context) error
}

// RedisCache implements PoolCache using Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetPools returns the cached list or ErrCacheMiss.
func (c *RedisCache) GetPools(ctx context.Context) ([]storage.Pool, error) {
	data, err := c.client.Get(ctx, c.wrapKey(poolsKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var pools []storage.Pool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("decode cached pools: %w", err)
	}
	return pools, nil
}

// SetPools stores the list with the configured TTL; zero TTL keeps it until invalidated.
func (c *RedisCache) SetPools(ctx context.Context, pools []storage.Pool) error {
	data, err := json.Marshal(pools)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.wrapKey(poolsKey), data, c.ttl).Err()
}

// Invalidate drops the cached list.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Unlink(ctx, c.wrapKey(poolsKey)).Err()
}

func (c *RedisCache) wrapKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimSuffix(c.prefix, ":") + ":" + key
}

var _ PoolCache = (*RedisCache)(nil)
