package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

type DailyRevenue struct {
	Date    string          `json:"date"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type ProductRevenue struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type ImportTotals struct {
	Runs         int64 `json:"runs"`
	RowsImported int64 `json:"rows_imported"`
	RowsFailed   int64 `json:"rows_failed"`
}

// StoreOverview is the merchant dashboard report. Money is in major units
// of the store currency.
type StoreOverview struct {
	StoreID           uuid.UUID                          `json:"store_id"`
	Currency          string                             `json:"currency"`
	From              time.Time                          `json:"from"`
	To                time.Time                          `json:"to"`
	OrderCount        int                                `json:"order_count"`
	GrossRevenue      decimal.Decimal                    `json:"gross_revenue"`
	RefundedRevenue   decimal.Decimal                    `json:"refunded_revenue"`
	NetRevenue        decimal.Decimal                    `json:"net_revenue"`
	AverageOrderValue decimal.Decimal                    `json:"average_order_value"`
	Daily             []DailyRevenue                     `json:"daily"`
	TopProducts       []ProductRevenue                   `json:"top_products"`
	Subscriptions     map[enums.SubscriptionStatus]int64 `json:"subscriptions"`
	Imports           ImportTotals                       `json:"imports"`
}

type StoreRevenue struct {
	StoreID    uuid.UUID       `json:"store_id"`
	Name       string          `json:"name"`
	Currency   string          `json:"currency"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type PlatformOverview struct {
	From                time.Time      `json:"from"`
	To                  time.Time      `json:"to"`
	Stores              []StoreRevenue `json:"stores"`
	NewStores           int64          `json:"new_stores"`
	ActiveSubscriptions int64          `json:"active_subscriptions"`
}
