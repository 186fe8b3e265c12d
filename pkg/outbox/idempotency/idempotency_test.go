package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	claimed map[string]bool
	err     error
	lastTTL time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: map[string]bool{}}
}

func (f *fakeStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.lastTTL = ttl
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "sd:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.claimed, key)
	}
	return nil
}

func TestClaimOncePerConsumer(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := manager.Claim(ctx, "imports", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 24*time.Hour, store.lastTTL)

	second, err := manager.Claim(ctx, "imports", "evt-1")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := manager.Claim(ctx, "analytics", "evt-1")
	require.NoError(t, err)
	assert.True(t, other, "claims are scoped per consumer")
	assert.Contains(t, store.claimed, "sd:idempotency:evt:imports:evt-1")
}

func TestReleaseAllowsReclaim(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.Claim(ctx, "email", "evt-2")
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, "email", "evt-2"))

	again, err := manager.Claim(ctx, "email", "evt-2")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestClaimValidation(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "", "evt")
	assert.Error(t, err)
	_, err = manager.Claim(context.Background(), "orders", " ")
	assert.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
}

func TestClaimPropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("redis down")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "orders", "evt-3")
	assert.Error(t, err)
}
