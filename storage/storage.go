// Package storage persists subscriptions, audit logs and per-user configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to another user.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a subscription already exists for the same channel and contact.
	ErrConflict = errors.New("subscription already exists")
)

// ValidationError reports invalid input rejected before reaching the database.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Options selects and tunes the database connection.
type Options struct {
	Driver       string // postgres or sqlite
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// Open connects to the configured database.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres":
		if opts.DSN == "" {
			return nil, errors.New("postgres requires a DSN")
		}
		dialector = postgres.Open(opts.DSN)
	case "sqlite", "":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "newsradar.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(log.New(os.Stderr, "", log.LstdFlags), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("set up database: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Store handles persistence for every user-owned record.
type Store struct {
	db     *gorm.DB
	sealer *Sealer
	logger *slog.Logger
}

// New creates a store. sealer encrypts stored credentials.
func New(db *gorm.DB, sealer *Sealer, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		sealer: sealer,
		logger: logger,
	}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&subscriptionRow{},
		&auditLogRow{},
		&emailConfigRow{},
		&whatsAppConfigRow{},
		&keywordRow{},
		&sourceRow{},
		&searchSettingsRow{},
		&twitterUserRow{},
		&whatsAppMessageRow{},
		&runLogRow{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	s.logger.Info("Database schema up to date")
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
