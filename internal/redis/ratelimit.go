package redis

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// FixedWindowLimiter counts events per key in fixed windows shared by every process using the same redis.
type FixedWindowLimiter struct {
	client *Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewFixedWindowLimiter(client *Client, limit int64, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	windowKey := "ratelimit:" + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	var incr *redis.IntCmd
	_, err = l.client.RedisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, err
	}

	if incr.Val() > l.limit {
		return false, windowStart.Add(l.window).Sub(now), nil
	}

	return true, 0, nil
}
