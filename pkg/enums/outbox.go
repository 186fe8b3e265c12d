package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateOrder           OutboxAggregateType = "order"
	AggregateCheckoutSession OutboxAggregateType = "checkout_session"
	AggregateProductImport   OutboxAggregateType = "product_import"
	AggregateSubscription    OutboxAggregateType = "subscription"
	AggregateDownload        OutboxAggregateType = "download"
	AggregateStore           OutboxAggregateType = "store"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCheckoutSession,
	AggregateProductImport,
	AggregateSubscription,
	AggregateDownload,
	AggregateStore,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key of an outbox event.
type OutboxEventType string

const (
	EventImportRequested     OutboxEventType = "import_requested"
	EventImportCompleted     OutboxEventType = "import_completed"
	EventOrderPaid           OutboxEventType = "order_paid"
	EventOrderCanceled       OutboxEventType = "order_canceled"
	EventOrderRefunded       OutboxEventType = "order_refunded"
	EventSubscriptionChanged OutboxEventType = "subscription_changed"
	EventEmailRequested      OutboxEventType = "email_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventImportRequested,
	EventImportCompleted,
	EventOrderPaid,
	EventOrderCanceled,
	EventOrderRefunded,
	EventSubscriptionChanged,
	EventEmailRequested,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
