package redis

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sf7293/task-assigner/internal/errval"
)

const scanBatchSize = 100

type Client struct {
	RedisClient *redis.Client
}

// NewClient parses dsn and builds a client. It does not dial; the first command does.
// dialTimeout bounds connect, read and write so that a dead redis fails fast.
func NewClient(dsn string, dialTimeout time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
		opts.ReadTimeout = dialTimeout
		opts.WriteTimeout = dialTimeout
	}

	return &Client{
		RedisClient: redis.NewClient(opts),
	}, nil
}

func (c *Client) Lock(ctx context.Context, lockKey string, lockTimeDuration time.Duration) (result bool, err error) {
	result, err = c.RedisClient.SetNX(ctx, lockKey, 1, lockTimeDuration).Result()
	if err != nil {
		return false, err
	}

	return result, nil
}

func (c *Client) Unlock(ctx context.Context, lockKey string) (err error) {
	err = c.RedisClient.Del(ctx, lockKey).Err()
	return err
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.RedisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errval.ErrNotFound
		}

		return "", err
	}

	return val, nil
}

func (c *Client) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.RedisClient.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return c.RedisClient.Del(ctx, keys...).Err()
}

// DelPattern deletes every key matching pattern. Keys are collected with SCAN, so it never blocks
// redis like KEYS does, and deleted in batches once the scan is complete.
func (c *Client) DelPattern(ctx context.Context, pattern string) (int, error) {
	keys := []string{}
	iter := c.RedisClient.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		if err := c.RedisClient.Del(ctx, keys[start:end]...).Err(); err != nil {
			return deleted, err
		}
		deleted += end - start
	}

	return deleted, nil
}

func (c *Client) Close() (err error) {
	err = c.RedisClient.Close()
	return err
}

func (c *Client) Ping(ctx context.Context) (err error) {
	err = c.RedisClient.Ping(ctx).Err()
	return err
}
