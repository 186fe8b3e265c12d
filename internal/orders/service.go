package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// Service reads orders for the dashboard and applies payment state changes.
// The Mark methods run inside the caller's transaction and report whether
// the order changed; a replay of the same transition is not an error.
type Service interface {
	ListOrders(ctx context.Context, input ListOrdersInput) (*pagination.Page[OrderDTO], error)
	GetOrder(ctx context.Context, storeID, orderID uuid.UUID) (*OrderDTO, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paymentIntentID string) (*models.Order, bool, error)
	MarkCanceled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, bool, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error)
}

type service struct {
	repo   *Repository
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(repo *Repository, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, outbox: emitter, logg: logg, now: time.Now}, nil
}

func (s *service) ListOrders(ctx context.Context, input ListOrdersInput) (*pagination.Page[OrderDTO], error) {
	var status *enums.OrderStatus
	if raw := strings.TrimSpace(input.Status); raw != "" {
		parsed, err := enums.ParseOrderStatus(strings.ToLower(raw))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		status = &parsed
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, input.StoreID, status, cursor, input.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	dtos := make([]OrderDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, NewOrderDTO(&rows[i]))
	}
	page := pagination.Build(dtos, input.Limit, func(o OrderDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &page, nil
}

func (s *service) GetOrder(ctx context.Context, storeID, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, storeID, orderID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	dto := NewOrderDTO(order)
	return &dto, nil
}

func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paymentIntentID string) (*models.Order, bool, error) {
	now := s.now().UTC()
	updates := map[string]any{"paid_at": now}
	if paymentIntentID != "" {
		updates["stripe_payment_intent_id"] = paymentIntentID
	}
	order, changed, err := s.transition(ctx, tx, orderID, enums.OrderStatusPaid, updates)
	if err != nil || !changed {
		return order, changed, err
	}
	hasDigital := false
	for _, item := range order.Items {
		if item.IsDigital {
			hasDigital = true
			break
		}
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			Email:       order.Email,
			Currency:    order.Currency,
			TotalCents:  order.TotalCents,
			ItemCount:   len(order.Items),
			HasDigital:  hasDigital,
			PaidAt:      now,
			BuyerUserID: order.BuyerUserID,
		},
	})
	return order, true, err
}

func (s *service) MarkCanceled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, bool, error) {
	now := s.now().UTC()
	order, changed, err := s.transition(ctx, tx, orderID, enums.OrderStatusCanceled, map[string]any{"canceled_at": now})
	if err != nil || !changed {
		return order, changed, err
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCanceled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderCanceledEvent{
			OrderID:    order.ID,
			StoreID:    order.StoreID,
			TotalCents: order.TotalCents,
			Reason:     reason,
			CanceledAt: now,
		},
	})
	return order, true, err
}

func (s *service) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error) {
	now := s.now().UTC()
	order, changed, err := s.transition(ctx, tx, orderID, enums.OrderStatusRefunded, map[string]any{"refunded_at": now})
	if err != nil || !changed {
		return order, changed, err
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderRefundedEvent{
			OrderID:    order.ID,
			StoreID:    order.StoreID,
			TotalCents: order.TotalCents,
			RefundedAt: now,
		},
	})
	return order, true, err
}

// transition applies a compare-and-set status change. An order already in
// next is returned unchanged; any other illegal move is a STATE_CONFLICT.
func (s *service) transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, next enums.OrderStatus, updates map[string]any) (*models.Order, bool, error) {
	if tx == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "order transitions require a transaction")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.Get(ctx, orderID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status == next {
		return order, false, nil
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, false, stateConflict(order.Status, next)
	}
	ok, err := repo.Transition(ctx, orderID, order.Status, next, updates)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return nil, false, stateConflict(order.Status, next)
	}
	fresh, err := repo.Get(ctx, orderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"from":     string(order.Status),
		"to":       string(next),
	}), "order status changed")
	return fresh, true, nil
}

func stateConflict(from, to enums.OrderStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order cannot move from %s to %s", from, to).
		WithDetails(map[string]any{"current_status": from, "requested_status": to})
}
