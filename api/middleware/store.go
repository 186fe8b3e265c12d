package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/api/responses"
	"github.com/angelmondragon/shopdeck-backend/internal/stores"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

const storeIDParam = "storeId"

// StoreAccessChecker decides whether an actor may manage a store.
type StoreAccessChecker interface {
	EnsureAccess(ctx context.Context, actor stores.Actor, storeID uuid.UUID) (*models.Store, error)
}

// StoreScope parses the {storeId} path parameter into the request context
// without checking ownership. Buyer-facing routes use it.
func StoreScope(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			storeID, err := storeIDFromPath(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withStore(r.Context(), logg, storeID)))
		})
	}
}

// StoreAccess requires the caller to own the store in the path or to be a
// platform admin.
func StoreAccess(checker StoreAccessChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if checker == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store access checker unavailable"))
				return
			}
			storeID, err := storeIDFromPath(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			actor := stores.Actor{UserID: UserIDFromContext(ctx), Role: RoleFromContext(ctx)}
			if _, err := checker.EnsureAccess(ctx, actor, storeID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withStore(ctx, logg, storeID)))
		})
	}
}

func storeIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, storeIDParam)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id")
	}
	return id, nil
}

func withStore(ctx context.Context, logg *logger.Logger, storeID uuid.UUID) context.Context {
	ctx = WithStoreID(ctx, storeID.String())
	if logg != nil {
		ctx = logg.WithStoreID(ctx, storeID.String())
	}
	return ctx
}
