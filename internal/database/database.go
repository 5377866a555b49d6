package database

import (
	"fmt"
	"strings"

	"github.com/ksred/klear-options/internal/database/migrations"
	"github.com/ksred/klear-options/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database at dsn and brings the schema up to date.
// ":memory:" databases are pinned to a single connection so every caller sees
// the same data.
func NewDatabase(dsn string) (*gorm.DB, error) {
	inMemory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !inMemory && !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(
		&types.Order{},
		&types.Asset{},
		&types.BalanceEntry{},
	)
	if err != nil {
		return nil, err
	}

	if err := migrations.AddOrderIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
