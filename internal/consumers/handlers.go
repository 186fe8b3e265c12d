package consumers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/internal/email"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/registry"
	"github.com/angelmondragon/shopdeck-backend/pkg/resend"
)

// Consumer names double as the idempotency key scope.
const (
	JobsConsumer      = "jobs"
	OrdersConsumer    = "orders"
	EmailConsumer     = "email"
	AnalyticsConsumer = "analytics"
)

type importProcessor interface {
	ProcessImport(ctx context.Context, evt payloads.ImportRequestedEvent) error
}

type orderFulfiller interface {
	FulfillOrder(ctx context.Context, orderID uuid.UUID) error
}

type emailDeliverer interface {
	Deliver(ctx context.Context, req payloads.EmailRequestedEvent) (string, error)
}

type eventSink interface {
	Write(ctx context.Context, eventType enums.OutboxEventType, env outbox.PayloadEnvelope) error
}

func mismatch(eventType enums.OutboxEventType, payload any) error {
	return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for %s", payload, eventType))
}

// JobsHandler runs queued product imports.
type JobsHandler struct {
	Processor importProcessor
}

func (h JobsHandler) Handles(t enums.OutboxEventType) bool {
	return t == enums.EventImportRequested
}

func (h JobsHandler) Handle(ctx context.Context, t enums.OutboxEventType, _ outbox.PayloadEnvelope, payload any) error {
	evt, ok := payload.(*payloads.ImportRequestedEvent)
	if !ok {
		return mismatch(t, payload)
	}
	return h.Processor.ProcessImport(ctx, *evt)
}

// OrdersHandler issues download grants and the receipt for paid orders.
type OrdersHandler struct {
	Downloads orderFulfiller
}

func (h OrdersHandler) Handles(t enums.OutboxEventType) bool {
	return t == enums.EventOrderPaid
}

func (h OrdersHandler) Handle(ctx context.Context, t enums.OutboxEventType, _ outbox.PayloadEnvelope, payload any) error {
	evt, ok := payload.(*payloads.OrderPaidEvent)
	if !ok {
		return mismatch(t, payload)
	}
	return h.Downloads.FulfillOrder(ctx, evt.OrderID)
}

// EmailHandler renders and sends email_requested events.
type EmailHandler struct {
	Mailer emailDeliverer
}

func (h EmailHandler) Handles(t enums.OutboxEventType) bool {
	return t == enums.EventEmailRequested
}

func (h EmailHandler) Handle(ctx context.Context, t enums.OutboxEventType, _ outbox.PayloadEnvelope, payload any) error {
	req, ok := payload.(*payloads.EmailRequestedEvent)
	if !ok {
		return mismatch(t, payload)
	}
	if req.To == "" {
		return registry.NewNonRetryableError(errors.New("email request without recipient"))
	}
	if !email.KnownTemplate(req.Template) {
		return registry.NewNonRetryableError(fmt.Errorf("unknown email template %q", req.Template))
	}
	if _, err := h.Mailer.Deliver(ctx, *req); err != nil {
		var apiErr *resend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError && apiErr.Status != http.StatusTooManyRequests {
			return registry.NewNonRetryableError(err)
		}
		return err
	}
	return nil
}

// AnalyticsHandler streams revenue-relevant events into BigQuery.
type AnalyticsHandler struct {
	Sink   eventSink
	Events map[enums.OutboxEventType]struct{}
}

func (h AnalyticsHandler) Handles(t enums.OutboxEventType) bool {
	_, ok := h.Events[t]
	return ok
}

func (h AnalyticsHandler) Handle(ctx context.Context, t enums.OutboxEventType, env outbox.PayloadEnvelope, _ any) error {
	return h.Sink.Write(ctx, t, env)
}
