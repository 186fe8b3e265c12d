package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t, &models.OutboxEvent{})
	svc := NewService(NewRepository(conn), nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: "user_1"},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "user_1", envelope.Actor.UserID)

	var data map[string]string
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, orderID.String(), data["order_id"])
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t, &models.OutboxEvent{})
	svc := NewService(NewRepository(conn), nil)
	event := DomainEvent{
		EventType:     enums.EventOrderCanceled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]any{},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	conn := dbtest.Open(t, &models.OutboxEvent{})
	svc := NewService(NewRepository(conn), nil)

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPaid}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{EventType: "store_renamed"}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventImportRequested,
		AggregateType: enums.AggregateProductImport,
		AggregateID:   uuid.New(),
		Data:          map[string]any{"job_id": "job-1"},
	}))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailedTx(conn, rows[0].ID, assert.AnError))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[0].ID, assert.AnError, 3))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows, "terminal rows are not fetched again")

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored).Error)
	require.NoError(t, repo.MarkPublishedTx(conn, stored.ID))

	purged, err := repo.DeletePublishedBefore(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}
