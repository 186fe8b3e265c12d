package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/shopdeck-backend/api/controllers/storecontext"
	"github.com/angelmondragon/shopdeck-backend/api/responses"
	"github.com/angelmondragon/shopdeck-backend/api/validators"
	"github.com/angelmondragon/shopdeck-backend/internal/downloads"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

// RedeemDownload exchanges a customer token for a short-lived signed object
// URL and redirects to it. No session is required; the token is the grant.
func RedeemDownload(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}
		token := strings.TrimSpace(chi.URLParam(r, "token"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "download token required"))
			return
		}
		url, err := svc.Redeem(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, url, http.StatusFound)
	}
}

func ListOrderDownloads(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListDownloadsForOrder(r.Context(), storeID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ResendDownloads queues a fresh receipt email with the order's active links.
func ResendDownloads(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ResendDownloadEmail(r.Context(), storeID, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]bool{"queued": true})
	}
}
