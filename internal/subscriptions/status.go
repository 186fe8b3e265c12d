package subscriptions

import (
	"time"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// IsActiveStatus reports whether Stripe still bills or trials the subscription.
func IsActiveStatus(status enums.SubscriptionStatus) bool {
	return status == enums.SubscriptionStatusTrialing || status == enums.SubscriptionStatusActive
}

// HasAccess reports whether the subscriber may use the store's plan at now.
// A subscription cancelled at period end keeps access until the period closes.
func HasAccess(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	if IsActiveStatus(sub.Status) {
		return true
	}
	if sub.Status == enums.SubscriptionStatusCanceled && sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
		return now.Before(*sub.CurrentPeriodEnd)
	}
	return false
}
