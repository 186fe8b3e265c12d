package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	values map[string]string
}

func newMemRedis() *memRedis { return &memRedis{values: map[string]string{}} }

func (m *memRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memRedis) LockKey(name string) string { return "sd:lock:" + name }

func TestRedisLockerIsExclusivePerJob(t *testing.T) {
	store := newMemRedis()
	locker, err := NewRedisLocker(store, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	token, ok, err := locker.Acquire(ctx, "download-expiry")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, store.values, "sd:lock:cron:download-expiry")

	_, ok, err = locker.Acquire(ctx, "download-expiry")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.Acquire(ctx, "checkout-expiry")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "download-expiry", token))
	_, ok, err = locker.Acquire(ctx, "download-expiry")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerReleaseIgnoresForeignToken(t *testing.T) {
	store := newMemRedis()
	locker, err := NewRedisLocker(store, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := locker.Acquire(ctx, "outbox-retention")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "outbox-retention", "someone-else"))
	assert.Contains(t, store.values, "sd:lock:cron:outbox-retention")

	require.NoError(t, locker.Release(ctx, "never-held", "x"))
}
