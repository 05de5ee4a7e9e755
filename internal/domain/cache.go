package domain

import (
	"context"
	"time"
)

// KeyValueStore is the backend of the cache layer. Get returns errval.ErrNotFound on a miss.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPattern(ctx context.Context, pattern string) (int, error)
}

// RateLimiter admits at most a fixed number of events per window across all processes.
// When it refuses, retryAfter tells when the current window closes.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}
