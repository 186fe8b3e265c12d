package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/api/controllers/storecontext"
	"github.com/angelmondragon/shopdeck-backend/api/responses"
	"github.com/angelmondragon/shopdeck-backend/api/validators"
	productsvc "github.com/angelmondragon/shopdeck-backend/internal/products"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

type createProductRequest struct {
	Name              string     `json:"name" validate:"required,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=5000"`
	SKU               *string    `json:"sku,omitempty" validate:"omitempty,max=64"`
	PriceCents        int64      `json:"price_cents" validate:"gte=0"`
	Stock             int        `json:"stock" validate:"gte=0"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	ImageURLs         []string   `json:"image_urls,omitempty" validate:"omitempty,max=10,dive,http_url"`
	IsFeatured        bool       `json:"is_featured"`
	IsArchived        bool       `json:"is_archived"`
	IsDigital         bool       `json:"is_digital"`
	DownloadObjectKey *string    `json:"download_object_key,omitempty" validate:"omitempty,max=512"`
}

type updateProductRequest struct {
	Name              *string    `json:"name,omitempty" validate:"omitempty,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=5000"`
	SKU               *string    `json:"sku,omitempty" validate:"omitempty,max=64"`
	PriceCents        *int64     `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Stock             *int       `json:"stock,omitempty" validate:"omitempty,gte=0"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	ClearCategory     bool       `json:"clear_category"`
	ImageURLs         *[]string  `json:"image_urls,omitempty" validate:"omitempty,max=10,dive,http_url"`
	IsFeatured        *bool      `json:"is_featured,omitempty"`
	IsArchived        *bool      `json:"is_archived,omitempty"`
	IsDigital         *bool      `json:"is_digital,omitempty"`
	DownloadObjectKey *string    `json:"download_object_key,omitempty" validate:"omitempty,max=512"`
}

func (p createProductRequest) toInput() productsvc.CreateProductInput {
	return productsvc.CreateProductInput{
		Name:              validators.SanitizeString(p.Name, 200),
		Description:       p.Description,
		SKU:               p.SKU,
		PriceCents:        p.PriceCents,
		Stock:             p.Stock,
		CategoryID:        p.CategoryID,
		ImageURLs:         p.ImageURLs,
		IsFeatured:        p.IsFeatured,
		IsArchived:        p.IsArchived,
		IsDigital:         p.IsDigital,
		DownloadObjectKey: p.DownloadObjectKey,
	}
}

func (p updateProductRequest) toInput() (productsvc.UpdateProductInput, error) {
	if p.ClearCategory && p.CategoryID != nil {
		return productsvc.UpdateProductInput{}, pkgerrors.New(pkgerrors.CodeValidation, "category_id and clear_category are mutually exclusive")
	}
	return productsvc.UpdateProductInput{
		Name:              p.Name,
		Description:       p.Description,
		SKU:               p.SKU,
		PriceCents:        p.PriceCents,
		Stock:             p.Stock,
		CategoryID:        p.CategoryID,
		ClearCategory:     p.ClearCategory,
		ImageURLs:         p.ImageURLs,
		IsFeatured:        p.IsFeatured,
		IsArchived:        p.IsArchived,
		IsDigital:         p.IsDigital,
		DownloadObjectKey: p.DownloadObjectKey,
	}, nil
}

func CreateProduct(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.CreateProduct(r.Context(), storeID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

func UpdateProduct(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.UpdateProduct(r.Context(), storeID, productID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

func GetProduct(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := svc.GetProduct(r.Context(), storeID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

func DeleteProduct(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteProduct(r.Context(), storeID, productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// ListProducts supports category, featured, archived and q filters plus
// cursor pagination.
func ListProducts(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters, err := parseProductFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListProducts(r.Context(), productsvc.ListProductsInput{
			StoreID: storeID,
			Filters: filters,
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseProductFilters(r *http.Request) (productsvc.ListFilters, error) {
	var filters productsvc.ListFilters
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("category_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid category_id")
		}
		filters.CategoryID = &id
	}
	featured, err := validators.ParseQueryBool(r, "featured")
	if err != nil {
		return filters, err
	}
	archived, err := validators.ParseQueryBool(r, "archived")
	if err != nil {
		return filters, err
	}
	filters.Featured = featured
	filters.Archived = archived
	filters.Search = validators.SanitizeString(query.Get("q"), 100)
	return filters, nil
}

// ExportProducts streams the catalog in the import CSV format. The body is
// buffered so a failed export still gets a JSON error.
func ExportProducts(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var buf bytes.Buffer
		if err := svc.ExportCSV(r.Context(), storeID, &buf); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCSV(w, fmt.Sprintf("products-%s.csv", time.Now().UTC().Format("20060102")), buf.Bytes())
	}
}

func writeCSV(w http.ResponseWriter, fileName string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
