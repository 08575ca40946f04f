// Package guard provides a short-lived submission lock backed by Redis.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "checkout-service:guard:"

type RedisGuard struct {
	client redis.Cmdable
}

func NewRedisGuard(client redis.Cmdable) *RedisGuard {
	return &RedisGuard{client: client}
}

// Acquire reports whether the key was free. The lock expires on its own after ttl.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
