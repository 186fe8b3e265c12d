package products

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// Service exposes catalog management for a single store.
type Service interface {
	CreateProduct(ctx context.Context, storeID uuid.UUID, input CreateProductInput) (*ProductDTO, error)
	UpdateProduct(ctx context.Context, storeID, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error)
	DeleteProduct(ctx context.Context, storeID, productID uuid.UUID) error
	GetProduct(ctx context.Context, storeID, productID uuid.UUID) (*ProductDTO, error)
	ListProducts(ctx context.Context, input ListProductsInput) (*pagination.Page[ProductDTO], error)
	ExportCSV(ctx context.Context, storeID uuid.UUID, w io.Writer) error
}

type categoryLookup interface {
	FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.Category, error)
}

type service struct {
	repo       *Repository
	tx         dbpkg.TxRunner
	categories categoryLookup
}

// NewService constructs the product service.
func NewService(repo *Repository, tx dbpkg.TxRunner, categories categoryLookup) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if categories == nil {
		return nil, fmt.Errorf("category lookup required")
	}
	return &service{repo: repo, tx: tx, categories: categories}, nil
}

func (s *service) CreateProduct(ctx context.Context, storeID uuid.UUID, input CreateProductInput) (*ProductDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if err := validateNumbers(input.PriceCents, input.Stock); err != nil {
		return nil, err
	}
	if err := validateDigital(input.IsDigital, input.DownloadObjectKey); err != nil {
		return nil, err
	}
	urls, err := NormalizeImageURLs(input.ImageURLs)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCategory(ctx, storeID, input.CategoryID); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, storeID, name, nil); err != nil {
		return nil, err
	}

	product := &models.Product{
		StoreID:           storeID,
		CategoryID:        input.CategoryID,
		Name:              name,
		Description:       trimmed(input.Description),
		SKU:               trimmed(input.SKU),
		PriceCents:        input.PriceCents,
		Stock:             input.Stock,
		IsFeatured:        input.IsFeatured,
		IsArchived:        input.IsArchived,
		IsDigital:         input.IsDigital,
		DownloadObjectKey: trimmed(input.DownloadObjectKey),
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Create(ctx, product); err != nil {
			return mapWriteError(err, name)
		}
		if _, err := txRepo.ReplaceImages(ctx, product.ID, urls); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: replace images")
		}
		return nil
	}); err != nil {
		return nil, asTyped(err, "create product")
	}
	return s.GetProduct(ctx, storeID, product.ID)
}

func (s *service) UpdateProduct(ctx context.Context, storeID, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error) {
	product, err := s.load(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		if name != product.Name {
			if err := s.ensureNameFree(ctx, storeID, name, &product.ID); err != nil {
				return nil, err
			}
		}
		product.Name = name
	}
	if input.Description != nil {
		product.Description = trimmed(input.Description)
	}
	if input.SKU != nil {
		product.SKU = trimmed(input.SKU)
	}
	if input.PriceCents != nil {
		product.PriceCents = *input.PriceCents
	}
	if input.Stock != nil {
		product.Stock = *input.Stock
	}
	if err := validateNumbers(product.PriceCents, product.Stock); err != nil {
		return nil, err
	}
	switch {
	case input.ClearCategory:
		product.CategoryID = nil
	case input.CategoryID != nil:
		if err := s.ensureCategory(ctx, storeID, input.CategoryID); err != nil {
			return nil, err
		}
		product.CategoryID = input.CategoryID
	}
	if input.IsFeatured != nil {
		product.IsFeatured = *input.IsFeatured
	}
	if input.IsArchived != nil {
		product.IsArchived = *input.IsArchived
	}
	if input.IsDigital != nil {
		product.IsDigital = *input.IsDigital
	}
	if input.DownloadObjectKey != nil {
		product.DownloadObjectKey = trimmed(input.DownloadObjectKey)
	}
	if err := validateDigital(product.IsDigital, product.DownloadObjectKey); err != nil {
		return nil, err
	}
	var urls []string
	if input.ImageURLs != nil {
		if urls, err = NormalizeImageURLs(*input.ImageURLs); err != nil {
			return nil, err
		}
	}

	product.Category = nil
	product.Images = nil
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Save(ctx, product); err != nil {
			return mapWriteError(err, product.Name)
		}
		if input.ImageURLs != nil {
			if _, err := txRepo.ReplaceImages(ctx, product.ID, urls); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: replace images")
			}
		}
		return nil
	}); err != nil {
		return nil, asTyped(err, "update product")
	}
	return s.GetProduct(ctx, storeID, productID)
}

func (s *service) DeleteProduct(ctx context.Context, storeID, productID uuid.UUID) error {
	if _, err := s.load(ctx, storeID, productID); err != nil {
		return err
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Delete(ctx, storeID, productID)
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete product")
	}
	return nil
}

func (s *service) GetProduct(ctx context.Context, storeID, productID uuid.UUID) (*ProductDTO, error) {
	product, err := s.load(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}
	return NewProductDTO(product), nil
}

func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*pagination.Page[ProductDTO], error) {
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, input.StoreID, input.Filters, cursor, input.Pagination.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	dtos := make([]ProductDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *NewProductDTO(&rows[i]))
	}
	page := pagination.Build(dtos, input.Pagination.Limit, func(p ProductDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return &page, nil
}

// ExportCSV writes the whole catalog in the bulk import format.
func (s *service) ExportCSV(ctx context.Context, storeID uuid.UUID, w io.Writer) error {
	rows, err := s.repo.ListForExport(ctx, storeID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products for export")
	}
	if err := WriteCSV(w, rows); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write csv")
	}
	return nil
}

func (s *service) load(ctx context.Context, storeID, productID uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, storeID, productID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func (s *service) ensureCategory(ctx context.Context, storeID uuid.UUID, categoryID *uuid.UUID) error {
	if categoryID == nil {
		return nil
	}
	if _, err := s.categories.FindByID(ctx, storeID, *categoryID); err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeValidation, "category does not belong to this store").
				WithDetails(map[string]any{"category_id": categoryID.String()})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category")
	}
	return nil
}

func (s *service) ensureNameFree(ctx context.Context, storeID uuid.UUID, name string, exclude *uuid.UUID) error {
	taken, err := s.repo.NameTaken(ctx, storeID, name, exclude)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check product name")
	}
	if taken {
		return duplicateName(name)
	}
	return nil
}

func validateNumbers(priceCents int64, stock int) error {
	if priceCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be zero or more")
	}
	if stock < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock must be zero or more")
	}
	return nil
}

func validateDigital(isDigital bool, key *string) error {
	if isDigital && (key == nil || strings.TrimSpace(*key) == "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "download_object_key is required for digital products")
	}
	return nil
}

func duplicateName(name string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "a product with this name already exists").
		WithDetails(map[string]any{"name": name})
}

func mapWriteError(err error, name string) error {
	if dbpkg.IsUniqueViolation(err, "uq_products_store_name") {
		return duplicateName(name)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: save product")
}

func asTyped(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
