// Package dbtest opens throwaway in-memory SQLite databases for repository and
// service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
)

// Open returns an isolated sqlite database migrated with the given models.
// When no models are passed, every model in pkg/db/models is migrated.
func Open(t *testing.T, tables ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=0", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(tables) == 0 {
		tables = models.All()
	}
	if err := conn.AutoMigrate(tables...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}
