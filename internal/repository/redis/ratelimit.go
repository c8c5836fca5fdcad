package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "chatlink:ratelimit:"

// RateLimiter caps how many chat frames a widget may send per minute. Fixed
// one-minute window with a burst allowance on top.
type RateLimiter struct {
	client         *Client
	messagesPerMin int
	burst          int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, messagesPerMin, burst int) *RateLimiter {
	return &RateLimiter{
		client:         client,
		messagesPerMin: messagesPerMin,
		burst:          burst,
	}
}

// Allow checks whether the widget identified by key may send another chat
// frame. Returns (allowed, remaining, windowReset).
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	fullKey := rateLimitPrefix + key
	windowEnd := time.Now().Truncate(time.Minute).Add(time.Minute)

	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := incrCmd.Val()
	limit := int64(r.messagesPerMin + r.burst)
	remaining := int(limit - count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, windowEnd, nil
}

// Reset clears the counter for a widget, for use when a session ends.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.rdb.Del(ctx, rateLimitPrefix+key).Err()
}
