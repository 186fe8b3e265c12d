package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
)

type fakeInserter struct {
	errs  []error
	calls int
	rows  []any
}

func (f *fakeInserter) InsertRows(_ context.Context, _ string, rows []any) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func envelope(data string) outbox.PayloadEnvelope {
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(data),
	}
}

func TestBuildRowFlattensOrderFields(t *testing.T) {
	row, err := BuildRow(enums.EventOrderPaid, envelope(`{"order_id":"o-1","store_id":"s-1","currency":"usd","total_cents":4200}`))
	require.NoError(t, err)
	assert.Equal(t, "order_paid", row.EventType)
	require.NotNil(t, row.OrderID)
	assert.Equal(t, "o-1", *row.OrderID)
	require.NotNil(t, row.AmountCents)
	assert.EqualValues(t, 4200, *row.AmountCents)
	assert.True(t, row.Payload.Valid)

	row, err = BuildRow(enums.EventImportCompleted, envelope(`{"store_id":"s-1","job_id":"j"}`))
	require.NoError(t, err)
	assert.Nil(t, row.OrderID)
	assert.Nil(t, row.AmountCents)
}

func TestSinkRetriesTransientErrors(t *testing.T) {
	client := &fakeInserter{errs: []error{&googleapi.Error{Code: 503}}}
	sink, err := NewSink(client, "store_events")
	require.NoError(t, err)
	sink.policy.BaseDelay = time.Millisecond

	require.NoError(t, sink.Write(context.Background(), enums.EventOrderPaid, envelope(`{"order_id":"o-1"}`)))
	assert.Equal(t, 2, client.calls)
	assert.Len(t, client.rows, 1)
}

func TestSinkStopsOnPermanentErrors(t *testing.T) {
	client := &fakeInserter{errs: []error{errors.New("schema mismatch")}}
	sink, err := NewSink(client, "store_events")
	require.NoError(t, err)

	assert.Error(t, sink.Write(context.Background(), enums.EventOrderPaid, envelope(`{}`)))
	assert.Equal(t, 1, client.calls)
}
