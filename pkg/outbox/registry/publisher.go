package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topics and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	// AlsoAggregates lists other aggregates the event may be keyed on.
	AlsoAggregates []enums.OutboxAggregateType
	Topics         []string
	PayloadFactory func() any
}

func (d EventDescriptor) accepts(aggregate enums.OutboxAggregateType) bool {
	if d.AggregateType == aggregate {
		return true
	}
	for _, alt := range d.AlsoAggregates {
		if alt == aggregate {
			return true
		}
	}
	return false
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	required := map[string]string{
		"jobs":      cfg.JobsTopic,
		"orders":    cfg.OrdersTopic,
		"email":     cfg.EmailTopic,
		"analytics": cfg.AnalyticsTopic,
	}
	for name, topic := range required {
		if topic == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventImportRequested,
			AggregateType:  enums.AggregateProductImport,
			Topics:         []string{cfg.JobsTopic},
			PayloadFactory: func() any { return &payloads.ImportRequestedEvent{} },
		},
		{
			EventType:      enums.EventImportCompleted,
			AggregateType:  enums.AggregateProductImport,
			Topics:         []string{cfg.AnalyticsTopic},
			PayloadFactory: func() any { return &payloads.ImportCompletedEvent{} },
		},
		{
			EventType:      enums.EventOrderPaid,
			AggregateType:  enums.AggregateOrder,
			Topics:         []string{cfg.OrdersTopic, cfg.AnalyticsTopic},
			PayloadFactory: func() any { return &payloads.OrderPaidEvent{} },
		},
		{
			EventType:      enums.EventOrderCanceled,
			AggregateType:  enums.AggregateOrder,
			Topics:         []string{cfg.AnalyticsTopic},
			PayloadFactory: func() any { return &payloads.OrderCanceledEvent{} },
		},
		{
			EventType:      enums.EventOrderRefunded,
			AggregateType:  enums.AggregateOrder,
			Topics:         []string{cfg.AnalyticsTopic},
			PayloadFactory: func() any { return &payloads.OrderRefundedEvent{} },
		},
		{
			EventType:      enums.EventSubscriptionChanged,
			AggregateType:  enums.AggregateSubscription,
			Topics:         []string{cfg.AnalyticsTopic},
			PayloadFactory: func() any { return &payloads.SubscriptionChangedEvent{} },
		},
		{
			EventType:      enums.EventEmailRequested,
			AggregateType:  enums.AggregateStore,
			AlsoAggregates: []enums.OutboxAggregateType{enums.AggregateOrder},
			Topics:         []string{cfg.EmailTopic},
			PayloadFactory: func() any { return &payloads.EmailRequestedEvent{} },
		},
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Descriptor returns the registered descriptor for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if !desc.accepts(event.AggregateType) {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := r.Decode(event.EventType, envelope.Data)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

// Decode unmarshals envelope data into the registered payload type. Consumers
// call it on messages they pull from Pub/Sub.
func (r *EventRegistry) Decode(eventType enums.OutboxEventType, data json.RawMessage) (any, error) {
	desc, ok := r.entries[eventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", eventType))
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", eventType))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(trimmed, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", eventType, err))
	}
	return payload, nil
}
