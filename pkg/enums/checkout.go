package enums

import "fmt"

// CheckoutMode mirrors the Stripe checkout session mode.
type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// IsValid reports whether the value is a known CheckoutMode.
func (m CheckoutMode) IsValid() bool {
	return m == CheckoutModePayment || m == CheckoutModeSubscription
}

// CheckoutSessionStatus is the local state of a hosted checkout session.
type CheckoutSessionStatus string

const (
	CheckoutSessionOpen     CheckoutSessionStatus = "open"
	CheckoutSessionComplete CheckoutSessionStatus = "complete"
	CheckoutSessionExpired  CheckoutSessionStatus = "expired"
	CheckoutSessionFailed   CheckoutSessionStatus = "failed"
)

var validCheckoutSessionStatuses = []CheckoutSessionStatus{
	CheckoutSessionOpen,
	CheckoutSessionComplete,
	CheckoutSessionExpired,
	CheckoutSessionFailed,
}

// IsValid reports whether the value is a known CheckoutSessionStatus.
func (s CheckoutSessionStatus) IsValid() bool {
	for _, candidate := range validCheckoutSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session can no longer be paid.
func (s CheckoutSessionStatus) IsTerminal() bool {
	return s != CheckoutSessionOpen
}

// ParseCheckoutSessionStatus converts raw input into a CheckoutSessionStatus.
func ParseCheckoutSessionStatus(value string) (CheckoutSessionStatus, error) {
	for _, candidate := range validCheckoutSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout session status %q", value)
}
