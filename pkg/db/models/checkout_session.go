package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// CheckoutSession links a Stripe-hosted checkout to the local order (payment
// mode) or to the subscribing user (subscription mode). The idempotency key
// is unique per store.
type CheckoutSession struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	StoreID         uuid.UUID                   `gorm:"column:store_id;type:uuid;not null;uniqueIndex:uq_checkout_sessions_store_key,priority:1"`
	IdempotencyKey  string                      `gorm:"column:idempotency_key;not null;uniqueIndex:uq_checkout_sessions_store_key,priority:2"`
	RequestHash     string                      `gorm:"column:request_hash;not null"`
	Mode            enums.CheckoutMode          `gorm:"column:mode;type:checkout_mode;not null"`
	Status          enums.CheckoutSessionStatus `gorm:"column:status;type:checkout_session_status;not null;default:'open'"`
	OrderID         *uuid.UUID                  `gorm:"column:order_id;type:uuid;index"`
	UserID          *string                     `gorm:"column:user_id;index"`
	Email           string                      `gorm:"column:email;not null"`
	StripeSessionID *string                     `gorm:"column:stripe_session_id;uniqueIndex:uq_checkout_sessions_stripe_id"`
	URL             *string                     `gorm:"column:url"`
	ExpiresAt       *time.Time                  `gorm:"column:expires_at"`
	CompletedAt     *time.Time                  `gorm:"column:completed_at"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *CheckoutSession) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}
