package imports

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/gemini"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
)

func requestedEvent(t *testing.T, h *harness, jobID, email string) payloads.ImportRequestedEvent {
	t.Helper()
	var log models.ProductImportLog
	require.NoError(t, h.conn.Where("job_id = ?", jobID).First(&log).Error)
	return payloads.ImportRequestedEvent{
		LogID: log.ID, JobID: jobID, StoreID: log.StoreID, UserID: log.UserID,
		Email: email, Source: log.Source, ObjectKey: *log.ObjectKey, FileName: log.FileName,
	}
}

func eventTypes(t *testing.T, h *harness) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.EventType)
	}
	return out
}

func TestProcessImportPartialWithDuplicatesAndCategories(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	require.NoError(t, h.conn.Create(&models.Product{StoreID: storeID, Name: "Existing", PriceCents: 100}).Error)
	require.NoError(t, h.conn.Create(&models.Category{StoreID: storeID, Name: "Mugs"}).Error)

	csv := "name,price,category,images\n" +
		"Existing,1,,\n" +
		"Cup,2,mugs,https://cdn.test/cup.png\n" +
		"Plate,3,Plates,\n" +
		"Cup,4,,\n" +
		",5,,\n"
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader(csv)})
	require.NoError(t, err)

	proc := h.processor(t, testImportConfig, nil)
	require.NoError(t, proc.ProcessImport(ctx, requestedEvent(t, h, res.JobID, "owner@example.com")))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusPartial, log.Status)
	assert.Equal(t, 5, log.TotalRows)
	assert.Equal(t, 2, log.SuccessCount)
	assert.Equal(t, 3, log.ErrorCount)
	require.NotNil(t, log.CompletedAt)
	assert.Len(t, log.Errors, 3)

	var cup models.Product
	require.NoError(t, h.conn.Preload("Category").Preload("Images").Where("store_id = ? AND name = ?", storeID, "Cup").First(&cup).Error)
	require.NotNil(t, cup.Category)
	assert.Equal(t, "Mugs", cup.Category.Name, "existing category matched case-insensitively")
	assert.Len(t, cup.Images, 1)

	var plates int64
	require.NoError(t, h.conn.Model(&models.Category{}).Where("store_id = ? AND name = ?", storeID, "Plates").Count(&plates).Error)
	assert.Equal(t, int64(1), plates, "category created on demand")

	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventImportRequested, enums.EventImportCompleted, enums.EventEmailRequested}, eventTypes(t, h))

	status, err := h.status.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, enums.ImportStatusPartial, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 2, status.ProcessedRows)
	assert.Equal(t, 3, status.FailedRows)
}

func TestProcessImportIsIdempotentOnceFinal(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader("name,price\nA,1\nB,2\nC,3\n")})
	require.NoError(t, err)

	proc := h.processor(t, testImportConfig, nil)
	evt := requestedEvent(t, h, res.JobID, "")
	require.NoError(t, proc.ProcessImport(ctx, evt))
	require.NoError(t, proc.ProcessImport(ctx, evt))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusCompleted, log.Status)
	assert.Equal(t, 3, log.SuccessCount)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventImportRequested, enums.EventImportCompleted}, eventTypes(t, h))
}

func TestProcessImportFailsWhenNothingImported(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	require.NoError(t, h.conn.Create(&models.Product{StoreID: storeID, Name: "A", PriceCents: 1}).Error)
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader("name,price\nA,1\n")})
	require.NoError(t, err)

	require.NoError(t, h.processor(t, testImportConfig, nil).ProcessImport(ctx, requestedEvent(t, h, res.JobID, "")))
	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusFailed, log.Status)
	require.Len(t, log.Errors, 1)
	assert.Contains(t, log.Errors[0].Message, "duplicate")
}

func productNames(t *testing.T, h *harness, storeID uuid.UUID) []string {
	t.Helper()
	var names []string
	require.NoError(t, h.conn.Model(&models.Product{}).Where("store_id = ?", storeID).Order("name ASC").Pluck("name", &names).Error)
	return names
}

func TestProcessImportRetriesFailedBatchWithLinearBackoff(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader("name,price\nA,1\nB,2\nC,3\nD,4\nE,5\n")})
	require.NoError(t, err)

	// The first batch fails twice and lands on its last attempt.
	tx := newFlakyTx(h.conn, 1, 2)
	const step = 20 * time.Millisecond
	params := h.processorParams(testImportConfig, nil)
	params.Tx = tx
	params.BatchRetryDelay = step
	proc, err := NewProcessor(params)
	require.NoError(t, err)
	require.NoError(t, proc.ProcessImport(ctx, requestedEvent(t, h, res.JobID, "")))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusCompleted, log.Status)
	assert.Equal(t, 5, log.SuccessCount)
	assert.Zero(t, log.ErrorCount)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, productNames(t, h, storeID))

	calls := tx.started()
	// three attempts for the first batch, one per remaining batch, one to finish
	require.Len(t, calls, 6)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), step)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 2*step)
}

func TestProcessImportCountsAbandonedBatchAsFailedRows(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader("name,price\nA,1\nB,2\nC,3\nD,4\nE,5\n")})
	require.NoError(t, err)

	// Every attempt of the second batch fails.
	tx := newFlakyTx(h.conn, 2, 3, 4)
	params := h.processorParams(testImportConfig, nil)
	params.Tx = tx
	proc, err := NewProcessor(params)
	require.NoError(t, err)
	require.NoError(t, proc.ProcessImport(ctx, requestedEvent(t, h, res.JobID, "")))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusPartial, log.Status)
	assert.Equal(t, 3, log.SuccessCount)
	assert.Equal(t, 2, log.ErrorCount)
	require.Len(t, log.Errors, 2)
	for i, row := range []int{4, 5} {
		assert.Equal(t, row, log.Errors[i].Row)
		assert.Equal(t, "batch failed after retries", log.Errors[i].Message)
	}
	assert.Equal(t, []string{"A", "B", "E"}, productNames(t, h, storeID))
	assert.Len(t, tx.started(), 6)

	status, err := h.status.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, enums.ImportStatusPartial, status.Status)
	assert.Equal(t, 3, status.ProcessedRows)
	assert.Equal(t, 2, status.FailedRows)
}

func TestProcessImportCapsStoredErrors(t *testing.T) {
	cfg := config.ImportConfig{MaxFileBytes: 8192, MaxRows: 200, BatchSize: 50, MaxBatchRetries: 1}
	h := newHarness(t, cfg)
	ctx := context.Background()
	storeID := uuid.New()

	var b strings.Builder
	b.WriteString("name,price\nMug,2\n")
	for i := 0; i < 150; i++ {
		b.WriteString(",1\n")
	}
	res, err := h.service.StartImport(ctx, StartImportInput{StoreID: storeID, UserID: "u", FileName: "c.csv", Body: strings.NewReader(b.String())})
	require.NoError(t, err)
	assert.Len(t, res.RowErrors, 100)

	require.NoError(t, h.processor(t, cfg, nil).ProcessImport(ctx, requestedEvent(t, h, res.JobID, "")))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusPartial, log.Status)
	assert.Equal(t, 151, log.TotalRows)
	assert.Equal(t, 1, log.SuccessCount)
	assert.Equal(t, 150, log.ErrorCount)
	assert.Len(t, log.Errors, 100)
	assert.Equal(t, 3, log.Errors[0].Row)
}

type stubAnalyzer struct {
	calls int32
}

func (s *stubAnalyzer) AnalyzeImage(_ context.Context, imageURL, hints string) (*gemini.Candidate, error) {
	atomic.AddInt32(&s.calls, 1)
	if strings.Contains(imageURL, "broken") {
		return nil, errors.New("model refused")
	}
	name := "Vase " + imageURL[len(imageURL)-5:len(imageURL)-4]
	return &gemini.Candidate{Name: name, Description: hints, Price: 42.5, Category: "Vases"}, nil
}

func TestProcessAIImport(t *testing.T) {
	h := newHarness(t, testImportConfig)
	ctx := context.Background()
	storeID := uuid.New()
	res, err := h.service.StartAIImport(ctx, StartAIImportInput{
		StoreID: storeID, UserID: "u",
		ImageURLs: []string{"https://i.test/1.jpg", "https://i.test/broken.jpg", "https://i.test/3.jpg"},
		Hints:     "hand made",
	})
	require.NoError(t, err)

	analyzer := &stubAnalyzer{}
	require.NoError(t, h.processor(t, testImportConfig, analyzer).ProcessImport(ctx, requestedEvent(t, h, res.JobID, "")))

	log, err := h.service.GetImportLog(ctx, storeID, res.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImportStatusPartial, log.Status)
	assert.Equal(t, 2, log.SuccessCount)
	assert.Equal(t, 1, log.ErrorCount)
	require.Len(t, log.Errors, 1)
	assert.Equal(t, 2, log.Errors[0].Row)
	assert.Equal(t, int32(4), atomic.LoadInt32(&analyzer.calls), "broken image retried once")

	var vase models.Product
	require.NoError(t, h.conn.Where("store_id = ? AND name = ?", storeID, "Vase 1").First(&vase).Error)
	assert.Equal(t, int64(4250), vase.PriceCents)
}
