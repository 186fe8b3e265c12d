package downloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

const (
	stateActive    = "active"
	stateExpired   = "expired"
	stateRevoked   = "revoked"
	stateExhausted = "exhausted"
)

type DownloadDTO struct {
	ID               uuid.UUID  `json:"id"`
	OrderID          uuid.UUID  `json:"order_id"`
	OrderItemID      uuid.UUID  `json:"order_item_id"`
	ProductID        uuid.UUID  `json:"product_id"`
	Email            string     `json:"email"`
	DownloadCount    int        `json:"download_count"`
	MaxDownloads     int        `json:"max_downloads"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	LastDownloadedAt *time.Time `json:"last_downloaded_at,omitempty"`
	Active           bool       `json:"active"`
	Status           string     `json:"status"`
}

func newDownloadDTO(d models.Download, now time.Time) DownloadDTO {
	return DownloadDTO{
		ID:               d.ID,
		OrderID:          d.OrderID,
		OrderItemID:      d.OrderItemID,
		ProductID:        d.ProductID,
		Email:            d.Email,
		DownloadCount:    d.DownloadCount,
		MaxDownloads:     d.MaxDownloads,
		ExpiresAt:        d.ExpiresAt,
		RevokedAt:        d.RevokedAt,
		LastDownloadedAt: d.LastDownloadedAt,
		Active:           d.IsRedeemable(now),
		Status:           grantState(d, now),
	}
}
