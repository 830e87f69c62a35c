package database

import (
	"strings"
	"time"

	"agrifin-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Open opens a GORM DB from DSN. "sqlite:<path>" selects the embedded driver
// (local runs, ":memory:" in tests); anything else is a Postgres DSN.
// PreferSimpleProtocol disables prepared statement caching to avoid 42P05
// ("prepared statement already exists") behind connection poolers.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         newLogger(),
	}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), cfg)
		if err != nil {
			return nil, err
		}
		// SQLite serialises writers; one connection keeps ":memory:" a single database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), cfg)
}

// newLogger routes GORM warnings through zerolog. Lookups that find nothing are
// an expected outcome here, not an error worth a log line.
func newLogger() logger.Interface {
	return logger.New(&log.Logger, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Models lists every table owned by this service.
func Models() []interface{} {
	return []interface{}{
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Loan{},
		&domain.LoanMilestone{},
		&domain.Order{},
		&domain.Listing{},
		&domain.CropAssessment{},
		&domain.Event{},
		&domain.WalletTopUp{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
