package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveOrderPaid(t *testing.T) {
	reg := newTestEventRegistry(t)
	orderID := uuid.New()

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: mustEnvelope(t, payloads.OrderPaidEvent{
			OrderID:    orderID,
			StoreID:    uuid.New(),
			Email:      "buyer@example.com",
			TotalCents: 4200,
		}),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resolved.Descriptor.Topics; len(got) != 2 || got[0] != "orders-topic" || got[1] != "analytics-topic" {
		t.Fatalf("unexpected topics %v", got)
	}
	payload, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != orderID || payload.TotalCents != 4200 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata missing: %+v", resolved.Envelope)
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := mustEnvelope(t, payloads.ImportRequestedEvent{JobID: "job-1"})

	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType: "store_renamed", AggregateType: enums.AggregateStore, AggregateID: uuid.New(), Payload: valid,
		},
		"aggregate mismatch": {
			EventType: enums.EventImportRequested, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: valid,
		},
		"missing aggregate": {
			EventType: enums.EventImportRequested, AggregateType: enums.AggregateProductImport, Payload: valid,
		},
		"null data": {
			EventType: enums.EventImportRequested, AggregateType: enums.AggregateProductImport, AggregateID: uuid.New(),
			Payload: json.RawMessage(`{"version":1,"eventId":"x","data":null}`),
		},
		"broken envelope": {
			EventType: enums.EventImportRequested, AggregateType: enums.AggregateProductImport, AggregateID: uuid.New(),
			Payload: json.RawMessage(`{`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestEventRegistryAcceptsReceiptKeyedOnOrder(t *testing.T) {
	reg := newTestEventRegistry(t)
	event := models.OutboxEvent{
		EventType:     enums.EventEmailRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloads.EmailRequestedEvent{To: "a@b.co", Template: "order_receipt", Data: json.RawMessage(`{}`)}),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resolved.Descriptor.Topics; len(got) != 1 || got[0] != "email-topic" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestEventRegistryDecode(t *testing.T) {
	reg := newTestEventRegistry(t)
	out, err := reg.Decode(enums.EventEmailRequested, json.RawMessage(`{"to":"a@b.co","template":"import_finished","data":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	email, ok := out.(*payloads.EmailRequestedEvent)
	if !ok || email.To != "a@b.co" || email.Template != "import_finished" {
		t.Fatalf("unexpected payload %+v", out)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{JobsTopic: "jobs"}); err == nil {
		t.Fatalf("expected missing topic error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		JobsTopic:      "jobs-topic",
		OrdersTopic:    "orders-topic",
		EmailTopic:     "email-topic",
		AnalyticsTopic: "analytics-topic",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func mustEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}
