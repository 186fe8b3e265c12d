package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/shopdeck-backend/api/controllers/storecontext"
	"github.com/angelmondragon/shopdeck-backend/api/middleware"
	"github.com/angelmondragon/shopdeck-backend/api/responses"
	"github.com/angelmondragon/shopdeck-backend/api/validators"
	"github.com/angelmondragon/shopdeck-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

const idempotencyHeader = "Idempotency-Key"

type createCheckoutRequest struct {
	Items []checkout.ItemInput `json:"items" validate:"required,min=1,max=50,dive"`
}

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	if len(key) > 255 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long")
	}
	return key, nil
}

// CreateCheckout opens a Stripe-hosted payment session. A repeated key with
// the same cart returns the existing session with 200; a new session is 201.
func CreateCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		storeID, userID, err := storecontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateCheckoutSession(r.Context(), checkout.CreateCheckoutInput{
			StoreID:        storeID,
			BuyerUserID:    userID,
			Email:          middleware.EmailFromContext(r.Context()),
			Items:          payload.Items,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCheckoutResult(w, result)
	}
}

func writeCheckoutResult(w http.ResponseWriter, result *checkout.Result) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	responses.WriteSuccessStatus(w, status, result)
}

// GetCheckout returns a session only to the buyer who opened it.
func GetCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		storeID, userID, err := storecontext.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		session, err := svc.GetCheckoutSession(r.Context(), storeID, sessionID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}
