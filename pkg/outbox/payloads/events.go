package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// ImportRequestedEvent hands a staged import file to the worker.
type ImportRequestedEvent struct {
	LogID     uuid.UUID          `json:"log_id"`
	JobID     string             `json:"job_id"`
	StoreID   uuid.UUID          `json:"store_id"`
	UserID    string             `json:"user_id"`
	Email     string             `json:"email,omitempty"`
	Source    enums.ImportSource `json:"source"`
	ObjectKey string             `json:"object_key"`
	FileName  string             `json:"file_name"`
}

// ImportCompletedEvent summarizes a finished run for the analytics sink.
type ImportCompletedEvent struct {
	LogID        uuid.UUID          `json:"log_id"`
	JobID        string             `json:"job_id"`
	StoreID      uuid.UUID          `json:"store_id"`
	UserID       string             `json:"user_id"`
	Source       enums.ImportSource `json:"source"`
	Status       enums.ImportStatus `json:"status"`
	TotalRows    int                `json:"total_rows"`
	SuccessCount int                `json:"success_count"`
	ErrorCount   int                `json:"error_count"`
	CompletedAt  time.Time          `json:"completed_at"`
}

// OrderPaidEvent fires once per order when Stripe confirms payment.
type OrderPaidEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	StoreID     uuid.UUID `json:"store_id"`
	Email       string    `json:"email"`
	Currency    string    `json:"currency"`
	TotalCents  int64     `json:"total_cents"`
	ItemCount   int       `json:"item_count"`
	HasDigital  bool      `json:"has_digital"`
	PaidAt      time.Time `json:"paid_at"`
	BuyerUserID *string   `json:"buyer_user_id,omitempty"`
}

// OrderCanceledEvent is emitted when an unpaid order is abandoned.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	StoreID    uuid.UUID `json:"store_id"`
	TotalCents int64     `json:"total_cents"`
	Reason     string    `json:"reason,omitempty"`
	CanceledAt time.Time `json:"canceled_at"`
}

// OrderRefundedEvent is emitted after a charge.refunded webhook.
type OrderRefundedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	StoreID    uuid.UUID `json:"store_id"`
	TotalCents int64     `json:"total_cents"`
	RefundedAt time.Time `json:"refunded_at"`
}

// SubscriptionChangedEvent mirrors a status change on the local row.
type SubscriptionChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	StoreID        uuid.UUID                `json:"store_id"`
	UserID         string                   `json:"user_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	PreviousStatus enums.SubscriptionStatus `json:"previous_status,omitempty"`
	ChangedAt      time.Time                `json:"changed_at"`
}

// EmailRequestedEvent asks the email consumer to render and send a template.
type EmailRequestedEvent struct {
	To       string          `json:"to"`
	Template string          `json:"template"`
	StoreID  *uuid.UUID      `json:"store_id,omitempty"`
	Data     json.RawMessage `json:"data"`
}
