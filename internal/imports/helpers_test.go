package imports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/categories"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemoryKV() *memoryKV { return &memoryKV{data: map[string]string{}} }

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", fmt.Errorf("redis down")
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("redis down")
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *memoryKV) JobStatusKey(kind, jobID string) string { return "job:" + kind + ":" + jobID }

type memoryObjects struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryObjects) Upload(_ context.Context, key, _ string, body io.Reader) (int64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return int64(len(data)), nil
}

func (m *memoryObjects) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type harness struct {
	conn    *gorm.DB
	kv      *memoryKV
	objects *memoryObjects
	status  *StatusStore
	service Service
	logg    *logger.Logger
	emitter *outbox.Service
}

func newHarness(t *testing.T, cfg config.ImportConfig) *harness {
	t.Helper()
	conn := dbtest.Open(t, &models.Category{}, &models.Product{}, &models.Image{}, &models.ProductImportLog{}, &models.OutboxEvent{})
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	h := &harness{
		conn:    conn,
		kv:      newMemoryKV(),
		objects: &memoryObjects{files: map[string][]byte{}},
		logg:    logg,
		emitter: outbox.NewService(outbox.NewRepository(conn), logg),
	}
	h.status = NewStatusStore(h.kv, time.Hour)
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Tx:        dbpkg.FromGorm(conn),
		Objects:   h.objects,
		Status:    h.status,
		Outbox:    h.emitter,
		Config:    cfg,
		AI:        config.AIConfig{MaxImages: 3, Concurrency: 2, MaxRetries: 1},
		AIEnabled: true,
		Logger:    logg,
	})
	require.NoError(t, err)
	h.service = svc
	return h
}

func (h *harness) processor(t *testing.T, cfg config.ImportConfig, analyzer Analyzer) *Processor {
	t.Helper()
	p, err := NewProcessor(h.processorParams(cfg, analyzer))
	require.NoError(t, err)
	return p
}

func (h *harness) processorParams(cfg config.ImportConfig, analyzer Analyzer) ProcessorParams {
	return ProcessorParams{
		Repo:            NewRepository(h.conn),
		Products:        products.NewRepository(h.conn),
		Categories:      categories.NewRepository(h.conn),
		Tx:              dbpkg.FromGorm(h.conn),
		Objects:         h.objects,
		Status:          h.status,
		Outbox:          h.emitter,
		Analyzer:        analyzer,
		Config:          cfg,
		AI:              config.AIConfig{Concurrency: 2, MaxRetries: 1},
		PublicURL:       "https://app.test",
		Logger:          h.logg,
		BatchRetryDelay: time.Millisecond,
	}
}

// flakyTx fails the numbered WithTx calls (1-based) and records when each
// call started.
type flakyTx struct {
	inner dbpkg.TxRunner
	fail  map[int]bool

	mu    sync.Mutex
	calls []time.Time
}

func newFlakyTx(conn *gorm.DB, failing ...int) *flakyTx {
	fail := make(map[int]bool, len(failing))
	for _, n := range failing {
		fail[n] = true
	}
	return &flakyTx{inner: dbpkg.FromGorm(conn), fail: fail}
}

func (f *flakyTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	n := len(f.calls)
	f.mu.Unlock()
	if f.fail[n] {
		return fmt.Errorf("connection reset on call %d", n)
	}
	return f.inner.WithTx(ctx, fn)
}

func (f *flakyTx) started() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}
