package sqlite

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Rating is the ratings table row.
type Rating struct {
	ID       uint     `gorm:"primaryKey"`
	Filename string   `gorm:"uniqueIndex;not null"`
	Score    *float64 `gorm:"index"`
	RaterID  *string
}

// Open opens (or creates) the database file at path and migrates the schema.
// path may be ":memory:" in tests.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// One connection: SQLite allows a single writer and :memory: is per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Rating{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	slog.Info("SQLite database opened", "path", path)
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
