package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/retry"
)

// SinkEvents are the event types streamed into the warehouse.
var SinkEvents = map[enums.OutboxEventType]struct{}{
	enums.EventOrderPaid:           {},
	enums.EventOrderCanceled:       {},
	enums.EventOrderRefunded:       {},
	enums.EventImportCompleted:     {},
	enums.EventSubscriptionChanged: {},
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// EventRow is one line of the store_events table.
type EventRow struct {
	EventID     string             `bigquery:"event_id"`
	EventType   string             `bigquery:"event_type"`
	OccurredAt  time.Time          `bigquery:"occurred_at"`
	StoreID     *string            `bigquery:"store_id"`
	OrderID     *string            `bigquery:"order_id"`
	Currency    *string            `bigquery:"currency"`
	AmountCents *int64             `bigquery:"amount_cents"`
	Payload     cbigquery.NullJSON `bigquery:"payload"`
}

// Sink writes event rows to BigQuery, retrying transient insert failures.
type Sink struct {
	client tableInserter
	table  string
	policy retry.Policy
}

func NewSink(client tableInserter, table string) (*Sink, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("events table is required")
	}
	return &Sink{
		client: client,
		table:  table,
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: 250 * time.Millisecond,
			Strategy:  retry.Exponential,
			Retryable: isRetryableBigQueryError,
		},
	}, nil
}

func (s *Sink) Write(ctx context.Context, eventType enums.OutboxEventType, env outbox.PayloadEnvelope) error {
	row, err := BuildRow(eventType, env)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.client.InsertRows(ctx, s.table, []any{row})
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", s.table, err)
	}
	return nil
}

// BuildRow flattens the common payload fields; the full payload is kept as JSON.
func BuildRow(eventType enums.OutboxEventType, env outbox.PayloadEnvelope) (*EventRow, error) {
	if env.EventID == "" {
		return nil, errors.New("event id missing")
	}
	var fields struct {
		StoreID    string `json:"store_id"`
		OrderID    string `json:"order_id"`
		Currency   string `json:"currency"`
		TotalCents *int64 `json:"total_cents"`
	}
	row := &EventRow{
		EventID:    env.EventID,
		EventType:  string(eventType),
		OccurredAt: env.OccurredAt.UTC(),
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		row.Payload = cbigquery.NullJSON{Valid: true, JSONVal: string(env.Data)}
	}
	row.StoreID = optional(fields.StoreID)
	row.OrderID = optional(fields.OrderID)
	row.Currency = optional(fields.Currency)
	row.AmountCents = fields.TotalCents
	return row, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		if multi == nil || len(*multi) == 0 {
			return false
		}
		for _, inner := range *multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !isRetryableBigQueryError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
				return true
			}
		}
	}
	return false
}
