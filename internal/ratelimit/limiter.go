package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "ratelimit:msg:"

// FixedWindowLimiter counts events per key in fixed windows stored in Redis.
// A limit of zero or less disables limiting.
type FixedWindowLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
}

func NewFixedWindowLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Allow records one event for userId and reports whether it fits in the
// current window.
func (l *FixedWindowLimiter) Allow(ctx context.Context, userId int) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	key := l.keyPrefix + strconv.Itoa(userId)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}

	// The first event opens the window.
	if count == 1 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("pexpire %s: %w", key, err)
		}
	}

	return count <= int64(l.limit), nil
}
