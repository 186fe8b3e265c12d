package imports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopdeck-backend/internal/products"
)

// Row is one validated product candidate from a CSV line or an AI analysis.
type Row struct {
	Line        int      `json:"line"`
	Name        string   `json:"name" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	PriceCents  int64    `json:"price_cents" validate:"gte=0"`
	Category    string   `json:"category" validate:"max=120"`
	ImageURLs   []string `json:"images" validate:"max=10,dive,url,startswith=http"`
	IsFeatured  bool     `json:"is_featured"`
	IsArchived  bool     `json:"is_archived"`
	Stock       int      `json:"stock" validate:"gte=0"`
	SKU         string   `json:"sku" validate:"max=64"`
}

// RowError is a per-row problem surfaced in the import log.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrTooManyRows is returned once the data rows pass the configured limit.
var ErrTooManyRows = errors.New("too many rows")

var requiredColumns = []string{products.ColumnName, products.ColumnPrice}

var rowValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}()

// ParseResult is the outcome of reading a CSV file.
type ParseResult struct {
	TotalRows int
	Rows      []Row
	Errors    []RowError
}

// ParseCSV reads a header-based product CSV. Header names are matched
// case-insensitively and may appear in any order. Rows are numbered by their
// line in the file, so the first data line is row 2.
func ParseCSV(r io.Reader, maxRows int) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.TotalRows++
				result.Errors = append(result.Errors, RowError{Row: parseErr.StartLine, Message: parseErr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}
		result.TotalRows++
		if maxRows > 0 && result.TotalRows > maxRows {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, maxRows)
		}
		row, rowErrs := buildRow(line, columns, record)
		if len(rowErrs) > 0 {
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func mapHeader(header []string) (map[string]int, error) {
	known := make(map[string]struct{}, len(products.CSVHeader))
	for _, col := range products.CSVHeader {
		known[col] = struct{}{}
	}
	columns := make(map[string]int, len(header))
	var err error
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if _, ok := known[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("unknown column %q", raw))
			continue
		}
		if _, dup := columns[name]; dup {
			err = multierr.Append(err, fmt.Errorf("duplicate column %q", raw))
			continue
		}
		columns[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			err = multierr.Append(err, fmt.Errorf("missing required column %q", col))
		}
	}
	return columns, err
}

func buildRow(line int, columns map[string]int, record []string) (Row, []RowError) {
	cell := func(col string) string {
		idx, ok := columns[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var errs []RowError
	fail := func(field, msg string) {
		errs = append(errs, RowError{Row: line, Field: field, Message: msg})
	}

	row := Row{
		Line:        line,
		Name:        cell(products.ColumnName),
		Description: cell(products.ColumnDescription),
		Category:    cell(products.ColumnCategory),
		SKU:         cell(products.ColumnSKU),
		ImageURLs:   splitImages(cell(products.ColumnImages)),
	}

	if raw := cell(products.ColumnPrice); raw == "" {
		fail(products.ColumnPrice, "is required")
	} else if cents, err := ParsePrice(raw); err != nil {
		fail(products.ColumnPrice, err.Error())
	} else {
		row.PriceCents = cents
	}
	if raw := cell(products.ColumnStock); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			fail(products.ColumnStock, "must be a whole number")
		} else {
			row.Stock = stock
		}
	}
	var err error
	if row.IsFeatured, err = parseBool(cell(products.ColumnFeatured)); err != nil {
		fail(products.ColumnFeatured, err.Error())
	}
	if row.IsArchived, err = parseBool(cell(products.ColumnArchived)); err != nil {
		fail(products.ColumnArchived, err.Error())
	}

	errs = append(errs, ValidateRow(row)...)
	return row, errs
}

// ValidateRow applies the struct-tag schema shared by CSV and AI rows.
func ValidateRow(row Row) []RowError {
	err := rowValidator.Struct(row)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []RowError{{Row: row.Line, Message: err.Error()}}
	}
	out := make([]RowError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, RowError{Row: row.Line, Field: fieldPath(fe), Message: describe(fe)})
	}
	return out
}

// ParsePrice turns decimal dollars ("19.99") into cents.
func ParsePrice(raw string) (int64, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.New("must be a decimal amount like 19.99")
	}
	if d.IsNegative() {
		return 0, errors.New("must be zero or more")
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, errors.New("must have at most two decimal places")
	}
	return d.Shift(2).IntPart(), nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "", "false", "0", "no", "n":
		return false, nil
	case "true", "1", "yes", "y":
		return true, nil
	}
	return false, fmt.Errorf("must be true or false, got %q", raw)
}

func splitImages(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, products.ImageSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind().String() == "slice" {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "url", "startswith":
		return "must be an absolute http(s) url"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// Template returns the CSV header plus one example row.
func Template() []byte {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(products.CSVHeader)
	_ = w.Write([]string{
		"Speckled Mug",
		"Hand-thrown stoneware, 12oz",
		"24.00",
		"Mugs",
		"https://cdn.example.com/mug-front.jpg|https://cdn.example.com/mug-side.jpg",
		"true",
		"false",
		"15",
		"MUG-SPK-12",
	})
	w.Flush()
	return []byte(b.String())
}
