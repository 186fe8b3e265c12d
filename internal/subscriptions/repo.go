package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// Repository persists the local mirror of Stripe subscriptions.
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

func (r *Repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *Repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *Repository) FindByUserStore(ctx context.Context, userID string, storeID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND store_id = ?", userID, storeID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) FindByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListPeriodEnded returns live subscriptions whose billing period ended
// before cutoff; their webhook may have been missed.
func (r *Repository) ListPeriodEnded(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id IS NOT NULL").
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusTrialing,
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusPastDue,
		}).
		Where("current_period_end IS NOT NULL AND current_period_end < ?", cutoff).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountByStatus groups a store's subscriptions by status.
func (r *Repository) CountByStatus(ctx context.Context, storeID uuid.UUID) (map[enums.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status enums.SubscriptionStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status, COUNT(*) AS count").
		Where("store_id = ?", storeID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.SubscriptionStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// CountAccessible counts trialing or active subscriptions across all stores.
func (r *Repository) CountAccessible(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ?", []enums.SubscriptionStatus{enums.SubscriptionStatusTrialing, enums.SubscriptionStatusActive}).
		Count(&count).Error
	return count, err
}
