package categories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

// Repository persists store categories.
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

func (r *Repository) Create(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

func (r *Repository) Save(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Save(category).Error
}

func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// FindByName matches case-insensitively, the way import rows refer to categories.
func (r *Repository) FindByName(ctx context.Context, storeID uuid.UUID, name string) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND LOWER(name) = ?", storeID, strings.ToLower(strings.TrimSpace(name))).
		First(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *Repository) List(ctx context.Context, storeID uuid.UUID) ([]models.Category, error) {
	var rows []models.Category
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Delete(ctx context.Context, storeID, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		Delete(&models.Category{}).Error
}

// CountProducts reports how many products still point at the category.
func (r *Repository) CountProducts(ctx context.Context, storeID, id uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("store_id = ? AND category_id = ?", storeID, id).
		Count(&count).Error
	return count, err
}
