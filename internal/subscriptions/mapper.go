package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

// Metadata keys stamped on Stripe subscriptions at checkout.
const (
	MetaStoreID = "store_id"
	MetaUserID  = "user_id"
	MetaEmail   = "email"
)

// ApplyStripe copies Stripe's view of the subscription onto target.
func ApplyStripe(target *models.Subscription, sub *stripe.Subscription) {
	id := sub.ID
	target.StripeSubscriptionID = &id
	target.Status = mapStripeStatus(sub.Status)
	if sub.Customer != nil && sub.Customer.ID != "" {
		customer := sub.Customer.ID
		target.StripeCustomerID = &customer
	}
	if priceID := priceFromSubscription(sub); priceID != "" {
		target.PriceID = &priceID
	}
	start, end := periodFromSubscription(sub)
	target.CurrentPeriodStart = toTimePtr(start)
	target.CurrentPeriodEnd = toTimePtr(end)
	target.TrialStart = toTimePtr(sub.TrialStart)
	target.TrialEnd = toTimePtr(sub.TrialEnd)
	target.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(sub.CanceledAt)
}

// OwnerFromMetadata reads the store and user a Stripe subscription belongs to.
func OwnerFromMetadata(metadata map[string]string) (uuid.UUID, string, error) {
	rawStore := strings.TrimSpace(metadata[MetaStoreID])
	userID := strings.TrimSpace(metadata[MetaUserID])
	if rawStore == "" || userID == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeValidation, "store_id and user_id metadata are required")
	}
	storeID, err := uuid.Parse(rawStore)
	if err != nil {
		return uuid.Nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store_id metadata")
	}
	return storeID, userID, nil
}

func mapStripeStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	parsed, err := enums.ParseSubscriptionStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if err != nil {
		return enums.SubscriptionStatusIncomplete
	}
	return parsed
}

func priceFromSubscription(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
