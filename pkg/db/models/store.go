package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the tenant boundary; every catalog and order row hangs off one.
type Store struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerUserID         string    `gorm:"column:owner_user_id;not null;index"`
	Name                string    `gorm:"column:name;not null"`
	Slug                string    `gorm:"column:slug;not null;uniqueIndex:uq_stores_slug"`
	Description         *string   `gorm:"column:description"`
	Currency            string    `gorm:"column:currency;not null;default:'usd'"`
	TrialDays           int       `gorm:"column:trial_days;not null;default:0"`
	SubscriptionPriceID *string   `gorm:"column:subscription_price_id"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Store) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}

// OffersSubscription reports whether the store sells a recurring plan.
func (s Store) OffersSubscription() bool {
	return s.SubscriptionPriceID != nil && *s.SubscriptionPriceID != ""
}
