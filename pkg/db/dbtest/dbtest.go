// Package dbtest opens isolated in-memory SQLite databases for tests.
package dbtest

import (
	"io"
	"log"
	"testing"

	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// New returns a migrated database private to the calling test. The pool is
// limited to one connection so concurrent transactions serialize the way row
// locks serialize them on Postgres.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:oakline_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// NewClient wraps New in a db.Client.
func NewClient(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := New(t)
	return db.NewFromGorm(conn), conn
}
