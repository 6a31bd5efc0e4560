// Package store persists users and emergency sessions. It runs on
// PostgreSQL in production and falls back to an embedded SQLite
// database when no DSN is configured, which also keeps tests free of
// external services.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/savlink/authgate/internal/config"
)

const memoryDSN = "file::memory:?cache=shared"

// Store provides durable persistence for the gateway.
type Store struct {
	db *gorm.DB
}

// New opens the database described by cfg and runs auto-migration. An
// empty DSN opens an in-memory SQLite database.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		cfg = &config.DatabaseConfig{}
	}

	var dialector gorm.Dialector
	switch {
	case cfg.DSN == "":
		dialector = sqlite.Open(memoryDSN)
	case strings.HasPrefix(cfg.DSN, "file:"), strings.HasSuffix(cfg.DSN, ".db"):
		dsn := cfg.DSN
		if !strings.Contains(dsn, "?") {
			// WAL keeps concurrent readers working alongside the single writer.
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration() > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueConstraintError reports whether err is a unique constraint
// violation on either backend.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// convertNotFoundError maps gorm.ErrRecordNotFound to a domain error.
func convertNotFoundError(err, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
