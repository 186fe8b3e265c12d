package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// Eligibility answers whether a user may start a free trial in a store.
type Eligibility struct {
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason,omitempty"`
	TrialDays int    `json:"trial_days"`
}

// Ineligibility reasons.
const (
	ReasonNoPlan        = "store_has_no_subscription"
	ReasonNoTrial       = "store_has_no_trial"
	ReasonExisting      = "subscription_exists"
	ReasonPriorCheckout = "prior_subscription_checkout"
)

type StartCheckoutInput struct {
	UserID         string
	Email          string
	StoreID        uuid.UUID
	IdempotencyKey string
}

type SubscriptionDTO struct {
	ID                 uuid.UUID                `json:"id"`
	StoreID            uuid.UUID                `json:"store_id"`
	UserID             string                   `json:"user_id"`
	Status             enums.SubscriptionStatus `json:"status"`
	HasAccess          bool                     `json:"has_access"`
	PriceID            *string                  `json:"price_id,omitempty"`
	TrialEnd           *time.Time               `json:"trial_end,omitempty"`
	CurrentPeriodStart *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CanceledAt         *time.Time               `json:"canceled_at,omitempty"`
}

func NewSubscriptionDTO(s *models.Subscription, now time.Time) SubscriptionDTO {
	return SubscriptionDTO{
		ID:                 s.ID,
		StoreID:            s.StoreID,
		UserID:             s.UserID,
		Status:             s.Status,
		HasAccess:          HasAccess(s, now),
		PriceID:            s.PriceID,
		TrialEnd:           s.TrialEnd,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         s.CanceledAt,
	}
}
