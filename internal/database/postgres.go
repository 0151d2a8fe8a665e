package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided DSN.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Clock asks the database for its current time.
type Clock struct {
	db *gorm.DB
}

// NewClock creates a Clock over db.
func NewClock(db *gorm.DB) *Clock {
	return &Clock{db: db}
}

// Now returns the database clock. It doubles as a connectivity check.
func (p *Clock) Now(ctx context.Context) (time.Time, error) {
	if p == nil || p.db == nil {
		return time.Time{}, fmt.Errorf("database not configured")
	}

	var now time.Time
	if err := p.db.WithContext(ctx).Raw("SELECT CURRENT_TIMESTAMP").Row().Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("query database time: %w", err)
	}
	return now, nil
}
