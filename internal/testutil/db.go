// Package testutil provides database and fixture helpers for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/d9705996/ama/internal/config"
	"github.com/d9705996/ama/internal/db"
	"gorm.io/gorm"
)

// NewDB opens a migrated SQLite database in a per-test temporary directory.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "ama_test.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn.Gorm
}
