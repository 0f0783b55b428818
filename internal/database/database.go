// Package database opens the transactional store and migrates the
// compliance schema.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/regulatory"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/internal/scheduler"
)

// NewPostgresDB opens a pooled Postgres connection.
func NewPostgresDB(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = time.Hour
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// NewSQLiteDB opens a SQLite database, used for local development and tests.
func NewSQLiteDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the compliance schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&risk.Transaction{},
		&risk.Assessment{},
		&alerts.Alert{},
		&audit.Entry{},
		&incidents.Incident{},
		&regulatory.Delivery{},
		&scheduler.Summary{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
