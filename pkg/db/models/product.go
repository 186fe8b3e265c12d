package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a catalog listing. Name is unique within a store.
type Product struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	StoreID           uuid.UUID  `gorm:"column:store_id;type:uuid;not null;uniqueIndex:uq_products_store_name,priority:1"`
	CategoryID        *uuid.UUID `gorm:"column:category_id;type:uuid;index"`
	Name              string     `gorm:"column:name;not null;uniqueIndex:uq_products_store_name,priority:2"`
	Description       *string    `gorm:"column:description"`
	SKU               *string    `gorm:"column:sku"`
	PriceCents        int64      `gorm:"column:price_cents;not null"`
	Stock             int        `gorm:"column:stock;not null;default:0"`
	IsFeatured        bool       `gorm:"column:is_featured;not null;default:false"`
	IsArchived        bool       `gorm:"column:is_archived;not null;default:false"`
	IsDigital         bool       `gorm:"column:is_digital;not null;default:false"`
	DownloadObjectKey *string    `gorm:"column:download_object_key"`
	Category          *Category  `gorm:"foreignKey:CategoryID"`
	Images            []Image    `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	newID(&p.ID)
	return nil
}

// Image is an ordered product picture.
type Image struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	URL       string    `gorm:"column:url;not null"`
	Position  int       `gorm:"column:position;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *Image) BeforeCreate(*gorm.DB) error {
	newID(&i.ID)
	return nil
}
