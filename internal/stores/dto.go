package stores

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

// StoreDTO exposes tenant data in API responses.
type StoreDTO struct {
	ID                  uuid.UUID `json:"id"`
	OwnerUserID         string    `json:"owner_user_id"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	Description         *string   `json:"description,omitempty"`
	Currency            string    `json:"currency"`
	TrialDays           int       `json:"trial_days"`
	SubscriptionPriceID *string   `json:"subscription_price_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CreateStoreInput is the validated create payload.
type CreateStoreInput struct {
	Name        string
	Slug        *string
	Description *string
	Currency    string
}

// UpdateStoreInput carries optional patches; nil fields are left alone.
type UpdateStoreInput struct {
	Name                *string
	Description         *string
	Currency            *string
	TrialDays           *int
	SubscriptionPriceID *string
}

// FromModel maps the persisted store into a DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:                  m.ID,
		OwnerUserID:         m.OwnerUserID,
		Name:                m.Name,
		Slug:                m.Slug,
		Description:         m.Description,
		Currency:            m.Currency,
		TrialDays:           m.TrialDays,
		SubscriptionPriceID: m.SubscriptionPriceID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}
