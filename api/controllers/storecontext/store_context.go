package storecontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

// ResolveStoreID returns the store the store middleware placed on the request.
func ResolveStoreID(r *http.Request) (uuid.UUID, error) {
	storeID := middleware.StoreIDFromContext(r.Context())
	if storeID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context required")
	}
	id, err := uuid.Parse(storeID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id")
	}
	return id, nil
}

// ResolveUserID returns the authenticated caller.
func ResolveUserID(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

// Resolve returns both the store and the caller.
func Resolve(r *http.Request) (uuid.UUID, string, error) {
	userID, err := ResolveUserID(r)
	if err != nil {
		return uuid.Nil, "", err
	}
	storeID, err := ResolveStoreID(r)
	if err != nil {
		return uuid.Nil, "", err
	}
	return storeID, userID, nil
}
