package products

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

// CSV column names shared by export and bulk import.
const (
	ColumnName        = "name"
	ColumnDescription = "description"
	ColumnPrice       = "price"
	ColumnCategory    = "category"
	ColumnImages      = "images"
	ColumnFeatured    = "is_featured"
	ColumnArchived    = "is_archived"
	ColumnStock       = "stock"
	ColumnSKU         = "sku"
)

// CSVHeader is the canonical column order.
var CSVHeader = []string{
	ColumnName,
	ColumnDescription,
	ColumnPrice,
	ColumnCategory,
	ColumnImages,
	ColumnFeatured,
	ColumnArchived,
	ColumnStock,
	ColumnSKU,
}

// ImageSeparator joins image urls inside the images cell.
const ImageSeparator = "|"

// FormatPrice renders integer cents as decimal dollars.
func FormatPrice(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// WriteCSV streams products in the import format.
func WriteCSV(w io.Writer, rows []models.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, p := range rows {
		if err := cw.Write(csvRecord(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(p models.Product) []string {
	category := ""
	if p.Category != nil {
		category = p.Category.Name
	}
	urls := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		urls = append(urls, img.URL)
	}
	return []string{
		p.Name,
		deref(p.Description),
		FormatPrice(p.PriceCents),
		category,
		strings.Join(urls, ImageSeparator),
		strconv.FormatBool(p.IsFeatured),
		strconv.FormatBool(p.IsArchived),
		strconv.Itoa(p.Stock),
		deref(p.SKU),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
