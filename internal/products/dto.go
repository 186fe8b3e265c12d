package products

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// ProductDTO is the dashboard view of a product and its ordered images.
type ProductDTO struct {
	ID                uuid.UUID  `json:"id"`
	StoreID           uuid.UUID  `json:"store_id"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	CategoryName      *string    `json:"category_name,omitempty"`
	Name              string     `json:"name"`
	Description       *string    `json:"description,omitempty"`
	SKU               *string    `json:"sku,omitempty"`
	PriceCents        int64      `json:"price_cents"`
	Stock             int        `json:"stock"`
	IsFeatured        bool       `json:"is_featured"`
	IsArchived        bool       `json:"is_archived"`
	IsDigital         bool       `json:"is_digital"`
	DownloadObjectKey *string    `json:"download_object_key,omitempty"`
	Images            []ImageDTO `json:"images"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type ImageDTO struct {
	ID       uuid.UUID `json:"id"`
	URL      string    `json:"url"`
	Position int       `json:"position"`
}

// CreateProductInput holds the validated payload to create a product.
type CreateProductInput struct {
	Name              string
	Description       *string
	SKU               *string
	PriceCents        int64
	Stock             int
	CategoryID        *uuid.UUID
	ImageURLs         []string
	IsFeatured        bool
	IsArchived        bool
	IsDigital         bool
	DownloadObjectKey *string
}

// UpdateProductInput carries optional mutations. ImageURLs, when set,
// replaces the whole ordered image list. ClearCategory detaches the category.
type UpdateProductInput struct {
	Name              *string
	Description       *string
	SKU               *string
	PriceCents        *int64
	Stock             *int
	CategoryID        *uuid.UUID
	ClearCategory     bool
	ImageURLs         *[]string
	IsFeatured        *bool
	IsArchived        *bool
	IsDigital         *bool
	DownloadObjectKey *string
}

// ListFilters are the browse knobs of the product list endpoint.
type ListFilters struct {
	CategoryID *uuid.UUID
	Featured   *bool
	Archived   *bool
	Search     string
}

type ListProductsInput struct {
	StoreID    uuid.UUID
	Filters    ListFilters
	Pagination pagination.Params
}

// NewProductDTO maps a product with preloaded images and category.
func NewProductDTO(m *models.Product) *ProductDTO {
	if m == nil {
		return nil
	}
	dto := &ProductDTO{
		ID:                m.ID,
		StoreID:           m.StoreID,
		CategoryID:        m.CategoryID,
		Name:              m.Name,
		Description:       m.Description,
		SKU:               m.SKU,
		PriceCents:        m.PriceCents,
		Stock:             m.Stock,
		IsFeatured:        m.IsFeatured,
		IsArchived:        m.IsArchived,
		IsDigital:         m.IsDigital,
		DownloadObjectKey: m.DownloadObjectKey,
		Images:            make([]ImageDTO, 0, len(m.Images)),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Category != nil {
		name := m.Category.Name
		dto.CategoryName = &name
	}
	for _, img := range m.Images {
		dto.Images = append(dto.Images, ImageDTO{ID: img.ID, URL: img.URL, Position: img.Position})
	}
	return dto
}
