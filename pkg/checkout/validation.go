// Package checkout holds cart validation shared by one-off and subscription checkouts.
package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

const (
	MinQuantity = 1
	MaxQuantity = 99
)

// Violation reasons returned in error details.
const (
	ReasonNotFound     = "not_found"
	ReasonArchived     = "archived"
	ReasonQuantity     = "invalid_quantity"
	ReasonInsufficient = "insufficient_stock"
	ReasonDuplicate    = "duplicate_item"
)

// LineItemCheck is one requested line joined with the product state. Found is
// false when the product id does not exist in the store.
type LineItemCheck struct {
	ProductID   uuid.UUID
	ProductName string
	Found       bool
	Archived    bool
	Digital     bool
	Stock       int
	Quantity    int
}

type Violation struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Reason       string    `json:"reason"`
	RequestedQty int       `json:"requested_qty"`
	AvailableQty *int      `json:"available_qty,omitempty"`
}

// ValidateLineItems reports every problem with the cart at once.
func ValidateLineItems(items []LineItemCheck) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	var violations []Violation
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		v := Violation{ProductID: item.ProductID, ProductName: item.ProductName, RequestedQty: item.Quantity}
		if _, dup := seen[item.ProductID]; dup {
			v.Reason = ReasonDuplicate
			violations = append(violations, v)
			continue
		}
		seen[item.ProductID] = struct{}{}

		switch {
		case !item.Found:
			v.Reason = ReasonNotFound
		case item.Archived:
			v.Reason = ReasonArchived
		case item.Quantity < MinQuantity || item.Quantity > MaxQuantity:
			v.Reason = ReasonQuantity
		case !item.Digital && item.Quantity > item.Stock:
			stock := item.Stock
			v.Reason = ReasonInsufficient
			v.AvailableQty = &stock
		default:
			continue
		}
		violations = append(violations, v)
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d cart item(s) cannot be purchased", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}
