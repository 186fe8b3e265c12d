package controllers

import (
	"net/http"

	"github.com/angelmondragon/shopdeck-backend/api/controllers/storecontext"
	"github.com/angelmondragon/shopdeck-backend/api/responses"
	"github.com/angelmondragon/shopdeck-backend/internal/customers"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

// ListCustomers resolves the store's buyers against the auth provider.
func ListCustomers(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}
		storeID, err := storecontext.ResolveStoreID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		users, err := svc.ListStoreCustomers(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, users)
	}
}
