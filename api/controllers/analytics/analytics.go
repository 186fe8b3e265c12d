package analytics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/shopdeck-backend/api/controllers/storecontext"
	"github.com/angelmondragon/shopdeck-backend/api/responses"
	internalanalytics "github.com/angelmondragon/shopdeck-backend/internal/analytics"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

var timeNowUTC = func() time.Time {
	return time.Now().UTC()
}

func resolveRange(r *http.Request) (internalanalytics.Range, error) {
	query := r.URL.Query()
	return internalanalytics.ParseRange(query.Get("from"), query.Get("to"), timeNowUTC())
}

// StoreOverview reports revenue, top products, subscriptions and import
// totals for one store.
func StoreOverview(svc internalanalytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		window, err := resolveRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.StoreOverview(ctx, storeID, window)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ExportOrders(svc internalanalytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		window, err := resolveRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var buf bytes.Buffer
		if err := svc.ExportOrdersCSV(ctx, storeID, window, &buf); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		name := fmt.Sprintf("orders-%s-%s.csv", window.From.Format("20060102"), window.To.Format("20060102"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

// PlatformOverview is the admin-wide report.
func PlatformOverview(svc internalanalytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}
		window, err := resolveRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.PlatformOverview(ctx, window)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
