package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

type OrderItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
	IsDigital      bool      `json:"is_digital"`
}

type OrderDTO struct {
	ID            uuid.UUID         `json:"id"`
	StoreID       uuid.UUID         `json:"store_id"`
	BuyerUserID   *string           `json:"buyer_user_id,omitempty"`
	Email         string            `json:"email"`
	Status        enums.OrderStatus `json:"status"`
	Currency      string            `json:"currency"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TotalCents    int64             `json:"total_cents"`
	Items         []OrderItemDTO    `json:"items"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	CanceledAt    *time.Time        `json:"canceled_at,omitempty"`
	RefundedAt    *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func NewOrderDTO(o *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:            o.ID,
		StoreID:       o.StoreID,
		BuyerUserID:   o.BuyerUserID,
		Email:         o.Email,
		Status:        o.Status,
		Currency:      o.Currency,
		SubtotalCents: o.SubtotalCents,
		TotalCents:    o.TotalCents,
		Items:         make([]OrderItemDTO, 0, len(o.Items)),
		PaidAt:        o.PaidAt,
		CanceledAt:    o.CanceledAt,
		RefundedAt:    o.RefundedAt,
		CreatedAt:     o.CreatedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents(),
			IsDigital:      item.IsDigital,
		})
	}
	return dto
}

// ListOrdersInput filters a store's order listing. Status is optional.
type ListOrdersInput struct {
	StoreID uuid.UUID
	Status  string
	Limit   int
	Cursor  string
}
