package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StoreID               uuid.UUID         `gorm:"column:store_id;type:uuid;not null;index"`
	BuyerUserID           *string           `gorm:"column:buyer_user_id"`
	Email                 string            `gorm:"column:email;not null"`
	Status                enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	Currency              string            `gorm:"column:currency;not null;default:'usd'"`
	SubtotalCents         int64             `gorm:"column:subtotal_cents;not null"`
	TotalCents            int64             `gorm:"column:total_cents;not null"`
	StripeSessionID       *string           `gorm:"column:stripe_session_id"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id"`
	PaidAt                *time.Time        `gorm:"column:paid_at"`
	CanceledAt            *time.Time        `gorm:"column:canceled_at"`
	RefundedAt            *time.Time        `gorm:"column:refunded_at"`
	Items                 []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	newID(&o.ID)
	return nil
}

// OrderItem snapshots the product price at checkout time.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName    string    `gorm:"column:product_name;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	IsDigital      bool      `gorm:"column:is_digital;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	newID(&i.ID)
	return nil
}

// LineTotalCents is unit price times quantity.
func (i OrderItem) LineTotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}
