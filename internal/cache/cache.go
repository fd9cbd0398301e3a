// Package cache holds short-lived Redis counters used for request throttling.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a windowed counter store. Implementations must be safe for
// concurrent use.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RedisCounter implements Counter using go-redis/v9.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a new RedisCounter from a Redis URL.
func NewRedisCounter(redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisCounterWithClient(redis.NewClient(opts)), nil
}

// NewRedisCounterWithClient shares an existing client.
func NewRedisCounterWithClient(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrWithExpiry increments key and starts its expiry window on first use.
// Later increments do not extend the window.
func (c *RedisCounter) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}
