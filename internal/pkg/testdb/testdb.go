// Package testdb opens migrated in-memory databases for package tests.
package testdb

import (
	"testing"

	"agrifin-backend/internal/infrastructure/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a fresh in-memory SQLite database with every table migrated.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
