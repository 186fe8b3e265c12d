// Package analytics builds merchant and platform reports from the
// transactional tables.
package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopdeck-backend/internal/imports"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

const topProductLimit = 5

type Service interface {
	StoreOverview(ctx context.Context, storeID uuid.UUID, r Range) (*StoreOverview, error)
	PlatformOverview(ctx context.Context, r Range) (*PlatformOverview, error)
	ExportOrdersCSV(ctx context.Context, storeID uuid.UUID, r Range, w io.Writer) error
}

type orderReader interface {
	ListPaidBetween(ctx context.Context, storeID *uuid.UUID, from, to time.Time) ([]models.Order, error)
}

type subscriptionCounter interface {
	CountByStatus(ctx context.Context, storeID uuid.UUID) (map[enums.SubscriptionStatus]int64, error)
	CountAccessible(ctx context.Context) (int64, error)
}

type storeReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	ListAll(ctx context.Context) ([]models.Store, error)
	CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
}

type importTotals interface {
	TotalsBetween(ctx context.Context, storeID uuid.UUID, from, to time.Time) (imports.Totals, error)
}

type service struct {
	orders        orderReader
	subscriptions subscriptionCounter
	stores        storeReader
	imports       importTotals
}

func NewService(orders orderReader, subs subscriptionCounter, stores storeReader, imp importTotals) (Service, error) {
	switch {
	case orders == nil:
		return nil, fmt.Errorf("order reader required")
	case subs == nil:
		return nil, fmt.Errorf("subscription counter required")
	case stores == nil:
		return nil, fmt.Errorf("store reader required")
	case imp == nil:
		return nil, fmt.Errorf("import totals required")
	}
	return &service{orders: orders, subscriptions: subs, stores: stores, imports: imp}, nil
}

func cents(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func (s *service) StoreOverview(ctx context.Context, storeID uuid.UUID, r Range) (*StoreOverview, error) {
	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	orders, err := s.orders.ListPaidBetween(ctx, &storeID, r.From, r.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	subs, err := s.subscriptions.CountByStatus(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count subscriptions")
	}
	totals, err := s.imports.TotalsBetween(ctx, storeID, r.From, r.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "import totals")
	}

	out := &StoreOverview{
		StoreID:       storeID,
		Currency:      store.Currency,
		From:          r.From,
		To:            r.To,
		OrderCount:    len(orders),
		Subscriptions: subs,
		Imports: ImportTotals{
			Runs:         totals.Runs,
			RowsImported: totals.RowsImported,
			RowsFailed:   totals.RowsFailed,
		},
	}

	days := dailyBuckets(r)
	products := map[uuid.UUID]*ProductRevenue{}
	var gross, refunded int64
	for _, o := range orders {
		gross += o.TotalCents
		if o.Status == enums.OrderStatusRefunded {
			refunded += o.TotalCents
			// the daily series and top products are net figures
			continue
		}
		if o.PaidAt != nil {
			if b, ok := days.index[o.PaidAt.UTC().Format(dayLayout)]; ok {
				days.rows[b].Orders++
				days.rows[b].Revenue = days.rows[b].Revenue.Add(cents(o.TotalCents))
			}
		}
		for _, item := range o.Items {
			p, ok := products[item.ProductID]
			if !ok {
				p = &ProductRevenue{ProductID: item.ProductID, Name: item.ProductName}
				products[item.ProductID] = p
			}
			p.Quantity += item.Quantity
			p.Revenue = p.Revenue.Add(cents(item.LineTotalCents()))
		}
	}
	out.GrossRevenue = cents(gross)
	out.RefundedRevenue = cents(refunded)
	out.NetRevenue = cents(gross - refunded)
	out.AverageOrderValue = decimal.Zero
	if len(orders) > 0 {
		out.AverageOrderValue = out.GrossRevenue.DivRound(decimal.NewFromInt(int64(len(orders))), 2)
	}
	out.Daily = days.rows
	out.TopProducts = topProducts(products, topProductLimit)
	return out, nil
}

type buckets struct {
	rows  []DailyRevenue
	index map[string]int
}

func dailyBuckets(r Range) buckets {
	b := buckets{index: map[string]int{}}
	day := time.Date(r.From.Year(), r.From.Month(), r.From.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(r.To) {
		key := day.Format(dayLayout)
		b.index[key] = len(b.rows)
		b.rows = append(b.rows, DailyRevenue{Date: key, Revenue: decimal.Zero})
		day = day.AddDate(0, 0, 1)
	}
	return b
}

func topProducts(in map[uuid.UUID]*ProductRevenue, limit int) []ProductRevenue {
	out := make([]ProductRevenue, 0, len(in))
	for _, p := range in {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *service) PlatformOverview(ctx context.Context, r Range) (*PlatformOverview, error) {
	stores, err := s.stores.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores")
	}
	orders, err := s.orders.ListPaidBetween(ctx, nil, r.From, r.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	newStores, err := s.stores.CountCreatedBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count stores")
	}
	active, err := s.subscriptions.CountAccessible(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count subscriptions")
	}

	byStore := make(map[uuid.UUID]*StoreRevenue, len(stores))
	for _, st := range stores {
		byStore[st.ID] = &StoreRevenue{StoreID: st.ID, Name: st.Name, Currency: st.Currency, Revenue: decimal.Zero}
	}
	for _, o := range orders {
		row, ok := byStore[o.StoreID]
		if !ok {
			continue
		}
		row.OrderCount++
		net := o.TotalCents
		if o.Status == enums.OrderStatusRefunded {
			net = 0
		}
		row.Revenue = row.Revenue.Add(cents(net))
	}

	out := &PlatformOverview{From: r.From, To: r.To, NewStores: newStores, ActiveSubscriptions: active}
	for _, row := range byStore {
		out.Stores = append(out.Stores, *row)
	}
	sort.Slice(out.Stores, func(i, j int) bool {
		if c := out.Stores[i].Revenue.Cmp(out.Stores[j].Revenue); c != 0 {
			return c > 0
		}
		return out.Stores[i].Name < out.Stores[j].Name
	})
	return out, nil
}

var exportHeader = []string{"order_id", "paid_at", "status", "email", "currency", "item_count", "subtotal", "total"}

// ExportOrdersCSV writes the store's paid and refunded orders in the window.
func (s *service) ExportOrdersCSV(ctx context.Context, storeID uuid.UUID, r Range, w io.Writer) error {
	orders, err := s.orders.ListPaidBetween(ctx, &storeID, r.From, r.To)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, o := range orders {
		paidAt := ""
		if o.PaidAt != nil {
			paidAt = o.PaidAt.UTC().Format(time.RFC3339)
		}
		items := 0
		for _, item := range o.Items {
			items += item.Quantity
		}
		if err := cw.Write([]string{
			o.ID.String(),
			paidAt,
			string(o.Status),
			o.Email,
			o.Currency,
			strconv.Itoa(items),
			cents(o.SubtotalCents).StringFixed(2),
			cents(o.TotalCents).StringFixed(2),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
