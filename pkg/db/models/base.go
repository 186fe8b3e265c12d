package models

import "github.com/google/uuid"

// newID fills an empty primary key before insert. Postgres also defaults the
// column, but assigning it here keeps IDs available to callers pre-commit.
func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every model, in dependency order, for AutoMigrate in tests.
func All() []any {
	return []any{
		&Store{},
		&Category{},
		&Product{},
		&Image{},
		&Order{},
		&OrderItem{},
		&CheckoutSession{},
		&Subscription{},
		&Download{},
		&ProductImportLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
