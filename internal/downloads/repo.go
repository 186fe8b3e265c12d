package downloads

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// CreateMissing inserts grants, leaving any order item that already has one
// untouched.
func (r *Repository) CreateMissing(ctx context.Context, rows []models.Download) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_item_id"}}, DoNothing: true}).
		Create(&rows).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Download, error) {
	var row models.Download
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Download, error) {
	var rows []models.Download
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// Consume spends one fetch. It returns false when the grant is revoked,
// expired or used up at now.
func (r *Repository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Download{}).
		Where("id = ? AND revoked_at IS NULL AND expires_at > ? AND download_count < max_downloads", id, now).
		Updates(map[string]any{
			"download_count":     gorm.Expr("download_count + 1"),
			"last_downloaded_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// RotateTokens gives every grant of the order that is still redeemable at
// now a fresh token id.
func (r *Repository) RotateTokens(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Download{}).
		Where("order_id = ? AND revoked_at IS NULL AND expires_at > ? AND download_count < max_downloads", orderID, now).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := r.db.WithContext(ctx).Model(&models.Download{}).
			Where("id = ?", id).
			Update("token_id", uuid.New()).Error; err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

func (r *Repository) RevokeByOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Download{}).
		Where("order_id = ? AND revoked_at IS NULL", orderID).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// RevokeExpired stamps revoked_at on grants whose window closed before now.
// Readers report such rows as expired, not revoked.
func (r *Repository) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Download{}).
		Where("revoked_at IS NULL AND expires_at <= ?", now).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}
