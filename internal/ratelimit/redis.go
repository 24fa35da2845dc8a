package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounter is a Counter backed by a shared Redis instance, for
// deployments where the limit must hold across processes.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a Redis-backed windowed counter.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// CheckAndIncrement counts the operation under a window-aligned key and
// admits it while the count stays within limit. The key expires with the
// window, so stale windows clean themselves up.
func (c *RedisCounter) CheckAndIncrement(key string, windowSecs int, limit int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	window := time.Now().Unix() / int64(windowSecs)
	redisKey := fmt.Sprintf("%s:%s:%d", c.prefix, key, window)

	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate limit key: %w", err)
	}
	if count == 1 {
		c.client.Expire(ctx, redisKey, time.Duration(windowSecs)*time.Second)
	}

	return count <= int64(limit), nil
}
