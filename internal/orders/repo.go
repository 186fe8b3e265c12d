package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// Repository persists orders and their items.
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

// Create inserts the order together with its items.
func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Get loads an order by id alone; webhook and worker paths have no store scope.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) List(ctx context.Context, storeID uuid.UUID, status *enums.OrderStatus, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Preload("Items").
		Where("store_id = ?", storeID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var rows []models.Order
	if err := q.Scopes(pagination.Scope("", cursor, limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Transition moves the order from one status to the next only if it is still
// in from. It reports whether a row changed.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) SetStripeSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("stripe_session_id", sessionID).Error
}

// FindPendingBefore lists pending orders created before cutoff, oldest first.
func (r *Repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPaidBetween returns orders paid in [from, to) for reporting. A nil
// store id spans every store.
func (r *Repository) ListPaidBetween(ctx context.Context, storeID *uuid.UUID, from, to time.Time) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Preload("Items").
		Where("paid_at >= ? AND paid_at < ?", from, to).
		Where("status IN ?", []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusRefunded})
	if storeID != nil {
		q = q.Where("store_id = ?", *storeID)
	}
	var rows []models.Order
	if err := q.Order("paid_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CustomerUserIDs lists distinct buyer user ids that ordered from the store.
func (r *Repository) CustomerUserIDs(ctx context.Context, storeID uuid.UUID, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("store_id = ? AND buyer_user_id IS NOT NULL", storeID).
		Distinct("buyer_user_id").
		Limit(limit).
		Pluck("buyer_user_id", &ids).Error
	return ids, err
}
