package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Download grants a buyer a bounded number of fetches of a digital product.
type Download struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	StoreID          uuid.UUID  `gorm:"column:store_id;type:uuid;not null;index"`
	OrderID          uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID      uuid.UUID  `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:uq_downloads_order_item"`
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	TokenID          uuid.UUID  `gorm:"column:token_id;type:uuid;not null"`
	Email            string     `gorm:"column:email;not null"`
	ObjectKey        string     `gorm:"column:object_key;not null"`
	DownloadCount    int        `gorm:"column:download_count;not null;default:0"`
	MaxDownloads     int        `gorm:"column:max_downloads;not null"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt        *time.Time `gorm:"column:revoked_at"`
	LastDownloadedAt *time.Time `gorm:"column:last_downloaded_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (d *Download) BeforeCreate(*gorm.DB) error {
	newID(&d.ID)
	newID(&d.TokenID)
	return nil
}

// IsRedeemable reports whether another fetch is allowed at now.
func (d Download) IsRedeemable(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt) && d.DownloadCount < d.MaxDownloads
}
