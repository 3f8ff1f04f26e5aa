package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PayloadCache holds successfully fetched artifacts. Content addresses are
// immutable so positive entries never go stale; failures are never stored.
type PayloadCache interface {
	Get(ctx context.Context, hash string) ([]byte, bool)
	Set(ctx context.Context, hash string, data []byte)
}

// RedisPayloadCache implements PayloadCache using Redis.
type RedisPayloadCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPayloadCache creates a cache backed by the Redis server at addr.
func NewRedisPayloadCache(addr, password string, db int, ttl time.Duration) *RedisPayloadCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPayloadCache{client: rdb, ttl: ttl}
}

func (c *RedisPayloadCache) key(hash string) string {
	return "artifact:" + hash
}

func (c *RedisPayloadCache) Get(ctx context.Context, hash string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.key(hash)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *RedisPayloadCache) Set(ctx context.Context, hash string, data []byte) {
	// Cache writes are best effort.
	_ = c.client.Set(ctx, c.key(hash), data, c.ttl).Err()
}

// Ping checks connectivity.
func (c *RedisPayloadCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisPayloadCache) Close() error {
	return c.client.Close()
}
