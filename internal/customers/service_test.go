package customers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/identity"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

type fakeUsers struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	fail     string
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*identity.User, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	switch id {
	case "ghost":
		return nil, identity.ErrUserNotFound
	case f.fail:
		return nil, errors.New("provider down")
	}
	return &identity.User{ID: id, Email: id + "@example.com"}, nil
}

type fakeBuyers struct{ ids []string }

func (f fakeBuyers) CustomerUserIDs(context.Context, uuid.UUID, int) ([]string, error) {
	return f.ids, nil
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if raw, ok := value.([]byte); ok {
		m.data[key] = string(raw)
		return nil
	}
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryCache) CacheKey(parts ...string) string {
	return fmt.Sprint(parts)
}

func newService(t *testing.T, users *fakeUsers, buyers fakeBuyers, c cache) Service {
	t.Helper()
	svc, err := NewService(users, buyers, c, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), Options{Concurrency: 2})
	require.NoError(t, err)
	return svc
}

func TestLookupUsersKeepsOrderAndSkipsMissing(t *testing.T) {
	users := &fakeUsers{}
	svc := newService(t, users, fakeBuyers{}, nil)

	out, err := svc.LookupUsers(context.Background(), []string{"u3", "ghost", "u1", "u3", "u2", "u4"})
	require.NoError(t, err)

	var ids []string
	for _, u := range out {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"u3", "u1", "u2", "u4"}, ids)
	assert.EqualValues(t, 5, users.calls.Load())
	assert.LessOrEqual(t, users.peak.Load(), int32(2))
}

func TestLookupUsersUsesCache(t *testing.T) {
	users := &fakeUsers{}
	c := &memoryCache{data: map[string]string{}}
	svc := newService(t, users, fakeBuyers{}, c)

	_, err := svc.LookupUsers(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	out, err := svc.LookupUsers(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)

	assert.Len(t, out, 2)
	assert.Equal(t, "u1@example.com", out[0].Email)
	assert.EqualValues(t, 2, users.calls.Load())
}

func TestLookupUsersPropagatesProviderErrors(t *testing.T) {
	svc := newService(t, &fakeUsers{fail: "u2"}, fakeBuyers{}, nil)
	_, err := svc.LookupUsers(context.Background(), []string{"u1", "u2"})
	assert.Error(t, err)
}

func TestListStoreCustomers(t *testing.T) {
	svc := newService(t, &fakeUsers{}, fakeBuyers{ids: []string{"buyer_1", "buyer_2"}}, nil)
	out, err := svc.ListStoreCustomers(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
