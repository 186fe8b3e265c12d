package checkout

import (
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

func TestValidateLineItemsAccepts(t *testing.T) {
	items := []LineItemCheck{
		{ProductID: uuid.New(), Found: true, Stock: 3, Quantity: 3},
		{ProductID: uuid.New(), Found: true, Digital: true, Stock: 0, Quantity: 2},
	}
	if err := ValidateLineItems(items); err != nil {
		t.Fatalf("expected valid cart, got %v", err)
	}
}

func TestValidateLineItemsCollectsViolations(t *testing.T) {
	dup := uuid.New()
	items := []LineItemCheck{
		{ProductID: uuid.New(), Found: false, Quantity: 1},
		{ProductID: uuid.New(), Found: true, Archived: true, Quantity: 1},
		{ProductID: uuid.New(), Found: true, Stock: 500, Quantity: 100},
		{ProductID: dup, Found: true, Stock: 1, Quantity: 2},
		{ProductID: dup, Found: true, Stock: 1, Quantity: 1},
	}
	err := ValidateLineItems(items)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	violations := details["violations"].([]Violation)
	want := []string{ReasonNotFound, ReasonArchived, ReasonQuantity, ReasonInsufficient, ReasonDuplicate}
	if len(violations) != len(want) {
		t.Fatalf("expected %d violations, got %+v", len(want), violations)
	}
	for i, reason := range want {
		if violations[i].Reason != reason {
			t.Fatalf("violation %d: want %s got %s", i, reason, violations[i].Reason)
		}
	}
	if violations[3].AvailableQty == nil || *violations[3].AvailableQty != 1 {
		t.Fatalf("insufficient stock should report availability")
	}
}

func TestValidateLineItemsEmpty(t *testing.T) {
	if !pkgerrors.IsCode(ValidateLineItems(nil), pkgerrors.CodeValidation) {
		t.Fatalf("empty cart should fail validation")
	}
}
