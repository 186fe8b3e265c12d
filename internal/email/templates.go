package email

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Template names carried in email_requested events.
const (
	TemplateImportFinished = "import_finished"
	TemplateOrderReceipt   = "order_receipt"
	TemplateTrialStarted   = "trial_started"
)

//go:embed templates/*.html
var templateFS embed.FS

type ImportFinishedData struct {
	StoreName    string `json:"store_name"`
	FileName     string `json:"file_name"`
	Status       string `json:"status"`
	TotalRows    int    `json:"total_rows"`
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	DetailsURL   string `json:"details_url,omitempty"`
}

type ReceiptItem struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type DownloadLink struct {
	ProductName string    `json:"product_name"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type OrderReceiptData struct {
	OrderID    string         `json:"order_id"`
	StoreName  string         `json:"store_name"`
	Currency   string         `json:"currency"`
	TotalCents int64          `json:"total_cents"`
	Items      []ReceiptItem  `json:"items"`
	Downloads  []DownloadLink `json:"downloads,omitempty"`
}

type TrialStartedData struct {
	StoreName string    `json:"store_name"`
	TrialDays int       `json:"trial_days"`
	TrialEnd  time.Time `json:"trial_end"`
}

type templateSpec struct {
	file    string
	subject func(data any) string
	decode  func(raw json.RawMessage) (any, error)
}

var specs = map[string]templateSpec{
	TemplateImportFinished: {
		file: "templates/import_finished.html",
		subject: func(data any) string {
			d := data.(*ImportFinishedData)
			return fmt.Sprintf("Your import of %s is %s", d.FileName, d.Status)
		},
		decode: decodeInto[ImportFinishedData],
	},
	TemplateOrderReceipt: {
		file: "templates/order_receipt.html",
		subject: func(data any) string {
			d := data.(*OrderReceiptData)
			return fmt.Sprintf("Your %s order receipt", d.StoreName)
		},
		decode: decodeInto[OrderReceiptData],
	},
	TemplateTrialStarted: {
		file: "templates/trial_started.html",
		subject: func(data any) string {
			d := data.(*TrialStartedData)
			return fmt.Sprintf("Your %d-day %s trial has started", d.TrialDays, d.StoreName)
		},
		decode: decodeInto[TrialStartedData],
	},
}

var funcs = template.FuncMap{
	"money": func(cents int64, currency string) string {
		return strings.ToUpper(currency) + " " + decimal.New(cents, -2).StringFixed(2)
	},
	"date": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006")
	},
}

var parsed = template.Must(template.New("email").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

// Render produces the subject and HTML body for a named template.
func Render(name string, raw json.RawMessage) (string, string, error) {
	spec, ok := specs[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	data, err := spec.decode(raw)
	if err != nil {
		return "", "", fmt.Errorf("decode %s data: %w", name, err)
	}
	var buf bytes.Buffer
	if err := parsed.ExecuteTemplate(&buf, strings.TrimPrefix(spec.file, "templates/"), data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return spec.subject(data), buf.String(), nil
}

// KnownTemplate reports whether name can be rendered.
func KnownTemplate(name string) bool {
	_, ok := specs[name]
	return ok
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
