package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// Subscription mirrors Stripe billing state, one row per user and store.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	StoreID              uuid.UUID                `gorm:"column:store_id;type:uuid;not null;uniqueIndex:uq_subscriptions_user_store,priority:2"`
	UserID               string                   `gorm:"column:user_id;not null;uniqueIndex:uq_subscriptions_user_store,priority:1"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;uniqueIndex:uq_subscriptions_stripe_id"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	PriceID              *string                  `gorm:"column:price_id"`
	TrialStart           *time.Time               `gorm:"column:trial_start"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}
