package products

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// Repository handles product and image persistence.
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

func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(product).Error
}

func (r *Repository) Save(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(product).Error
}

func (r *Repository) Delete(ctx context.Context, storeID, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("product_id = ?", id).Delete(&models.Image{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		Delete(&models.Product{}).Error
}

// FindByID loads a product with its category and ordered images.
func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDs returns the store's products among ids, without associations.
func (r *Repository) FindByIDs(ctx context.Context, storeID uuid.UUID, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Product
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id IN ?", storeID, ids).
		Find(&rows).Error
	return rows, err
}

// NameTaken reports whether another product in the store already uses name.
func (r *Repository) NameTaken(ctx context.Context, storeID uuid.UUID, name string, exclude *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Product{}).Where("store_id = ? AND name = ?", storeID, name)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var count int64
	err := q.Count(&count).Error
	return count > 0, err
}

// ExistingNames returns which of names already exist in the store.
func (r *Repository) ExistingNames(ctx context.Context, storeID uuid.UUID, names []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("store_id = ? AND name IN ?", storeID, names).
		Pluck("name", &found).Error
	if err != nil {
		return nil, err
	}
	for _, name := range found {
		out[name] = struct{}{}
	}
	return out, nil
}

// List applies filters and cursor pagination, newest first.
func (r *Repository) List(ctx context.Context, storeID uuid.UUID, filters ListFilters, cursor *pagination.Cursor, limit int) ([]models.Product, error) {
	q := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("store_id = ?", storeID)
	if filters.CategoryID != nil {
		q = q.Where("category_id = ?", *filters.CategoryID)
	}
	if filters.Featured != nil {
		q = q.Where("is_featured = ?", *filters.Featured)
	}
	if filters.Archived != nil {
		q = q.Where("is_archived = ?", *filters.Archived)
	}
	if term := strings.TrimSpace(filters.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(COALESCE(sku, '')) LIKE ?)", like, like)
	}
	var rows []models.Product
	err := q.Scopes(pagination.Scope("", cursor, limit)).Find(&rows).Error
	return rows, err
}

// ListForExport returns every product of the store, oldest first.
func (r *Repository) ListForExport(ctx context.Context, storeID uuid.UUID) ([]models.Product, error) {
	var rows []models.Product
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("store_id = ?", storeID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ReplaceImages swaps the ordered image set of a product.
func (r *Repository) ReplaceImages(ctx context.Context, productID uuid.UUID, urls []string) ([]models.Image, error) {
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Delete(&models.Image{}).Error; err != nil {
		return nil, err
	}
	images := make([]models.Image, 0, len(urls))
	for i, url := range urls {
		images = append(images, models.Image{ProductID: productID, URL: url, Position: i})
	}
	if len(images) == 0 {
		return images, nil
	}
	if err := r.db.WithContext(ctx).Create(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// DecrementStock lowers physical stock without going below zero and
// returns the number of rows changed.
func (r *Repository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND is_digital = ? AND stock >= ?", productID, false, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	return res.RowsAffected, res.Error
}

// ReleaseStock returns stock to a product, used when a paid order is refunded.
func (r *Repository) ReleaseStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND is_digital = ?", productID, false).
		Update("stock", gorm.Expr("stock + ?", qty)).Error
}
