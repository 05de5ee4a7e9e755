package domain

import (
	"context"
	"time"
)

type DistributedLock interface {
	Ping(ctx context.Context) (err error)
	Lock(ctx context.Context, lockKey string, lockTimeDuration time.Duration) (result bool, err error)
	Unlock(ctx context.Context, lockKey string) (err error)
	Close() error
}
