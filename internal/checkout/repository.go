package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// Repository persists checkout session rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *Repository) Save(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.CheckoutSession{}, "id = ?", id).Error
}

func (r *Repository) FindByKey(ctx context.Context, storeID uuid.UUID, key string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND idempotency_key = ?", storeID, key).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *Repository) FindByStripeID(ctx context.Context, stripeSessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", stripeSessionID).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListOpenExpiredBefore returns open sessions whose Stripe expiry passed, or
// that never got one and were created before staleBefore.
func (r *Repository) ListOpenExpiredBefore(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.CheckoutSession, error) {
	var rows []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.CheckoutSessionOpen).
		Where("(expires_at IS NOT NULL AND expires_at < ?) OR (expires_at IS NULL AND created_at < ?)", now, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// HasCompleted reports whether the user ever finished a checkout of the
// given mode in the store.
func (r *Repository) HasCompleted(ctx context.Context, storeID uuid.UUID, userID string, mode enums.CheckoutMode) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("store_id = ? AND user_id = ? AND mode = ? AND status = ?", storeID, userID, mode, enums.CheckoutSessionComplete).
		Count(&count).Error
	return count > 0, err
}
