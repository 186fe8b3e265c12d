package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 10 * time.Minute

// Locker hands out per-job leases so only one cron-worker replica runs a
// job at a time.
type Locker interface {
	Acquire(ctx context.Context, job string) (token string, ok bool, err error)
	Release(ctx context.Context, job, token string) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// RedisLocker implements Locker with SETNX and a TTL. A crashed holder's
// lease simply expires.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
}

func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) key(job string) string {
	return l.client.LockKey("cron:" + job)
}

func (l *RedisLocker) Acquire(ctx context.Context, job string) (string, bool, error) {
	if job == "" {
		return "", false, errors.New("job name is required")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(job), token, l.ttl)
	if err != nil {
		return "", false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lease only if token still owns it.
func (l *RedisLocker) Release(ctx context.Context, job, token string) error {
	if token == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key(job))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != token {
		return nil
	}
	if err := l.client.Del(ctx, l.key(job)); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
