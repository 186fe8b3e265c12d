package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.Order{}, &models.OrderItem{}, &models.OutboxEvent{})
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(NewRepository(conn), outbox.NewService(outbox.NewRepository(conn), logg), logg)
	require.NoError(t, err)
	return svc, conn
}

func seedOrder(t *testing.T, conn *gorm.DB, storeID uuid.UUID, status enums.OrderStatus, digital bool) *models.Order {
	t.Helper()
	order := &models.Order{
		StoreID:       storeID,
		Email:         "buyer@example.com",
		Status:        status,
		Currency:      "usd",
		SubtotalCents: 3000,
		TotalCents:    3000,
		Items: []models.OrderItem{
			{ProductID: uuid.New(), ProductName: "Mug", UnitPriceCents: 1000, Quantity: 2},
			{ProductID: uuid.New(), ProductName: "Pattern", UnitPriceCents: 1000, Quantity: 1, IsDigital: digital},
		},
	}
	require.NoError(t, NewRepository(conn).Create(context.Background(), order))
	return order
}

func outboxTypes(t *testing.T, conn *gorm.DB) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.EventType)
	}
	return out
}

func TestMarkPaidEmitsOnce(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, true)

	for i := 0; i < 2; i++ {
		err := conn.Transaction(func(tx *gorm.DB) error {
			got, changed, err := svc.MarkPaid(ctx, tx, order.ID, "pi_123")
			require.NoError(t, err)
			assert.Equal(t, i == 0, changed)
			assert.Equal(t, enums.OrderStatusPaid, got.Status)
			return nil
		})
		require.NoError(t, err)
	}

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.StripePaymentIntentID)
	assert.Equal(t, "pi_123", *stored.StripePaymentIntentID)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPaid}, outboxTypes(t, conn))
}

func TestIllegalTransitionsAreStateConflicts(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	canceled := seedOrder(t, conn, uuid.New(), enums.OrderStatusCanceled, false)
	pending := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, false)

	_ = conn.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.MarkPaid(ctx, tx, canceled.ID, "")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

		_, _, err = svc.MarkRefunded(ctx, tx, pending.ID)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

		_, _, err = svc.MarkCanceled(ctx, tx, uuid.New(), "")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
		return nil
	})
	assert.Empty(t, outboxTypes(t, conn))
}

func TestRefundAfterPaid(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, false)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if _, _, err := svc.MarkPaid(ctx, tx, order.ID, ""); err != nil {
			return err
		}
		_, changed, err := svc.MarkRefunded(ctx, tx, order.ID)
		assert.True(t, changed)
		return err
	}))
	got, err := svc.GetOrder(ctx, order.StoreID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	assert.NotNil(t, got.RefundedAt)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventOrderPaid, enums.EventOrderRefunded}, outboxTypes(t, conn))
}

func TestGetOrderIsStoreScoped(t *testing.T) {
	svc, conn := newTestService(t)
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, false)

	got, err := svc.GetOrder(context.Background(), order.StoreID, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	var total int64
	for _, item := range got.Items {
		total += item.LineTotalCents
	}
	assert.Equal(t, got.TotalCents, total)

	_, err = svc.GetOrder(context.Background(), uuid.New(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListOrdersFiltersAndPages(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	storeID := uuid.New()
	for i := 0; i < 3; i++ {
		seedOrder(t, conn, storeID, enums.OrderStatusPending, false)
		time.Sleep(2 * time.Millisecond)
	}
	seedOrder(t, conn, storeID, enums.OrderStatusPaid, false)
	seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, false)

	page, err := svc.ListOrders(ctx, ListOrdersInput{StoreID: storeID, Status: "pending", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := svc.ListOrders(ctx, ListOrdersInput{StoreID: storeID, Status: "pending", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	all, err := svc.ListOrders(ctx, ListOrdersInput{StoreID: storeID, Limit: pagination.MaxLimit})
	require.NoError(t, err)
	assert.Len(t, all.Items, 4)

	_, err = svc.ListOrders(ctx, ListOrdersInput{StoreID: storeID, Status: "shipped"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
