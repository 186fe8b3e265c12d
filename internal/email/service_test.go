package email

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/resend"
)

type fakeSender struct {
	sent []resend.Message
}

func (f *fakeSender) Send(_ context.Context, msg resend.Message) (string, error) {
	f.sent = append(f.sent, msg)
	return "em_1", nil
}

func TestRenderOrderReceipt(t *testing.T) {
	raw, err := json.Marshal(OrderReceiptData{
		OrderID:    "ord-1",
		StoreName:  "Kiln & Co",
		Currency:   "usd",
		TotalCents: 4550,
		Items:      []ReceiptItem{{Name: "Mug", Quantity: 2, LineTotalCents: 4550}},
		Downloads:  []DownloadLink{{ProductName: "Glaze guide", URL: "https://dl.test/t", ExpiresAt: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)}},
	})
	require.NoError(t, err)

	subject, html, err := Render(TemplateOrderReceipt, raw)
	require.NoError(t, err)
	assert.Equal(t, "Your Kiln & Co order receipt", subject)
	assert.Contains(t, html, "USD 45.50")
	assert.Contains(t, html, "Kiln &amp; Co")
	assert.Contains(t, html, "Mar 9, 2026")
	assert.Contains(t, html, `href="https://dl.test/t"`)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("nope", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDeliverSendsRenderedTemplate(t *testing.T) {
	sender := &fakeSender{}
	svc, err := NewService(sender, nil)
	require.NoError(t, err)

	evt, err := NewRequest(uuid.New(), "buyer@example.com", TemplateImportFinished, ImportFinishedData{
		FileName: "catalog.csv", Status: "partial", TotalRows: 10, SuccessCount: 8, ErrorCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.EventEmailRequested, evt.EventType)
	assert.Equal(t, enums.AggregateStore, evt.AggregateType)

	req := evt.Data.(payloads.EmailRequestedEvent)
	id, err := svc.Deliver(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "em_1", id)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"buyer@example.com"}, sender.sent[0].To)
	assert.Equal(t, "Your import of catalog.csv is partial", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTML, "<td>8</td>")
}

func TestNewRequestRejectsUnknownTemplate(t *testing.T) {
	_, err := NewRequest(uuid.New(), "a@b.c", "welcome", nil)
	assert.Error(t, err)
}
