// Package postgres implements the storage.Backend interface on a PostgreSQL
// connection through the queue-batched GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/aerolab/flighttrials/internal/database"
	gormstorage "github.com/aerolab/flighttrials/internal/storage/gorm"

	"gorm.io/gorm"
)

// Opener opens the database connection. Tests substitute their own.
type Opener func(dsn string) (*gorm.DB, error)

// Backend is the GORM backend bound to a Postgres connection opened on Init.
type Backend struct {
	*gormstorage.Backend
	dsn    string
	open   Opener
	logger *slog.Logger
}

// New creates a Postgres backend for dsn. An empty dsn uses the db.* config keys.
func New(dsn string, logger *slog.Logger) *Backend {
	return NewWithOpener(dsn, database.OpenPostgres, logger)
}

// NewWithOpener is New with a custom connection opener.
func NewWithOpener(dsn string, open Opener, logger *slog.Logger) *Backend {
	if dsn == "" {
		dsn = database.PostgresDSN()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{dsn: dsn, open: open, logger: logger}
}

// Init connects, validates the connection and starts the embedded GORM backend.
func (b *Backend) Init() error {
	db, err := b.open(b.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Logger: b.logger})
	if err := b.Backend.Init(); err != nil {
		return err
	}
	b.logger.Info("connected to database", "dialect", db.Name())
	return nil
}

// Close stops the embedded backend.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
