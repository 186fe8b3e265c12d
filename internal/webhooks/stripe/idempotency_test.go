package stripewebhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	keys map[string]time.Duration
	err  error
}

func (m *memStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memStore) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func TestEventGuardMarksOnce(t *testing.T) {
	store := &memStore{keys: map[string]time.Duration{}}
	guard, err := NewEventGuard(store, time.Hour, "")
	require.NoError(t, err)

	seen, err := guard.Mark(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, time.Hour, store.keys["idem:stripe-webhook:evt_1"])

	seen, err = guard.Mark(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, guard.Forget(context.Background(), "evt_1"))
	seen, err = guard.Mark(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEventGuardErrors(t *testing.T) {
	_, err := NewEventGuard(nil, time.Hour, "x")
	assert.Error(t, err)
	_, err = NewEventGuard(&memStore{}, 0, "x")
	assert.Error(t, err)

	guard, err := NewEventGuard(&memStore{keys: map[string]time.Duration{}, err: errors.New("down")}, time.Hour, "x")
	require.NoError(t, err)
	_, err = guard.Mark(context.Background(), "evt_1")
	assert.Error(t, err)
	_, err = guard.Mark(context.Background(), "")
	assert.Error(t, err)
}
