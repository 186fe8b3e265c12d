package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

// MaxIdempotencyKeyLength bounds the Idempotency-Key header.
const MaxIdempotencyKeyLength = 255

// RequestHash fingerprints a checkout request so a reused key with a
// different body can be told apart from a retry. v must marshal
// deterministically; callers sort slices first.
func RequestHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeKey trims and bounds an idempotency key.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required")
	}
	if len(key) > MaxIdempotencyKeyLength {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "Idempotency-Key must be at most %d characters", MaxIdempotencyKeyLength)
	}
	return key, nil
}

// MatchExisting decides what a repeated key means. The same request returns
// the stored session; a different one is IDEMPOTENCY_KEY_REUSED. A session
// still waiting on Stripe is a CONFLICT the client can retry.
func MatchExisting(existing *models.CheckoutSession, hash string) (*models.CheckoutSession, error) {
	if existing.RequestHash != hash {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was already used with a different request")
	}
	if existing.URL == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout with this idempotency key is still being created")
	}
	return existing, nil
}

// StripeIdempotencyKey derives the key sent to Stripe so retries of the same
// request never open two hosted sessions.
func StripeIdempotencyKey(scope, key, hash string) string {
	sum := sha256.Sum256([]byte(scope + "|" + key + "|" + hash))
	return "sd_" + hex.EncodeToString(sum[:16])
}
