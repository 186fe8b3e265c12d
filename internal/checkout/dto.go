package checkout

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// ItemInput is one requested cart line.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=99"`
}

// CreateCheckoutInput starts a one-off payment checkout.
type CreateCheckoutInput struct {
	StoreID        uuid.UUID
	BuyerUserID    string
	Email          string
	Items          []ItemInput
	IdempotencyKey string
}

// SessionDTO is a checkout session as returned to the buyer.
type SessionDTO struct {
	ID              uuid.UUID                   `json:"id"`
	StoreID         uuid.UUID                   `json:"store_id"`
	Mode            enums.CheckoutMode          `json:"mode"`
	Status          enums.CheckoutSessionStatus `json:"status"`
	OrderID         *uuid.UUID                  `json:"order_id,omitempty"`
	StripeSessionID *string                     `json:"stripe_session_id,omitempty"`
	URL             *string                     `json:"url,omitempty"`
	ExpiresAt       *time.Time                  `json:"expires_at,omitempty"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
}

// Result wraps a session and whether it was replayed from an earlier request.
type Result struct {
	Session  SessionDTO `json:"session"`
	Replayed bool       `json:"replayed"`
}

func NewSessionDTO(s *models.CheckoutSession) SessionDTO {
	return SessionDTO{
		ID:              s.ID,
		StoreID:         s.StoreID,
		Mode:            s.Mode,
		Status:          s.Status,
		OrderID:         s.OrderID,
		StripeSessionID: s.StripeSessionID,
		URL:             s.URL,
		ExpiresAt:       s.ExpiresAt,
		CompletedAt:     s.CompletedAt,
		CreatedAt:       s.CreatedAt,
	}
}

// CompletedSession carries the ids Stripe reports on checkout.session.completed.
type CompletedSession struct {
	StripeSessionID string
	PaymentIntentID string
}

// cartFingerprint is hashed into RequestHash.
type cartFingerprint struct {
	Mode  enums.CheckoutMode `json:"mode"`
	Email string             `json:"email"`
	Items []ItemInput        `json:"items"`
}
