package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("shipped migrations invalid: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "add_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func TestCreateSQLMigrationPassesValidation(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Store Banner!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_store_banner.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestSchemaCarriesUniquenessConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("no migrations found: %v", err)
	}
	var all strings.Builder
	for _, m := range matches {
		body, err := os.ReadFile(m)
		if err != nil {
			t.Fatalf("read %s: %v", m, err)
		}
		all.Write(body)
	}
	schema := all.String()

	for _, want := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_products_store_name ON products (store_id, name)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_user_store ON subscriptions (user_id, store_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_checkout_sessions_store_key ON checkout_sessions (store_id, idempotency_key)",
		"CREATE TABLE IF NOT EXISTS product_import_logs",
		"CREATE TABLE IF NOT EXISTS outbox_events",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("missing %q", want)
		}
	}
}
