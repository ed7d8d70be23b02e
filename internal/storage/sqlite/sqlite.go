// Package sqlitestorage records trials into an in-memory SQLite database
// and snapshots it to disk with VACUUM INTO, periodically and on Close.
// With PreferPostgres it records to Postgres instead while the server is
// reachable, and falls back to the in-memory database when it is not.
package sqlitestorage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aerolab/flighttrials/internal/database"
	gormstorage "github.com/aerolab/flighttrials/internal/storage/gorm"
	"github.com/rs/zerolog"
)

type Config struct {
	DumpInterval time.Duration
	DumpPath     string
	// PreferPostgres tries the db.* Postgres server first.
	PreferPostgres bool
	// Trace receives the database manager's logs.
	Trace zerolog.Logger
}

type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
	cfg     Config
	log     *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New connects right away so a failure surfaces before any trial starts.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kind := database.KindSQLite
	if cfg.PreferPostgres {
		kind = database.KindPostgres
	}
	m := database.NewManager(cfg.Trace, cfg.DumpPath)
	if err := m.Connect(kind); err != nil {
		return nil, fmt.Errorf("opening trial database: %w", err)
	}
	if cfg.PreferPostgres && m.Fallback {
		logger.Warn("Postgres unreachable, recording to local SQLite", "dumpPath", cfg.DumpPath)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: m.DB, Logger: logger}),
		manager: m,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// InMemory reports whether trials go to the in-memory database.
func (b *Backend) InMemory() bool {
	return b.manager.Fallback
}

// Init migrates the schema, starts the batch writer and, for an in-memory
// database, the periodic dump.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.InMemory() && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// Close flushes queued samples, then closes the database. An in-memory
// database is dumped a last time on the way out.
func (b *Backend) Close() error {
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}
	return errors.Join(b.Backend.Close(), b.manager.Close())
}

// Dump snapshots the in-memory database to DumpPath.
func (b *Backend) Dump() error {
	start := time.Now()
	if err := database.VacuumInto(b.manager.DB, b.cfg.DumpPath); err != nil {
		return err
	}
	b.log.Debug("Dumped trial database", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

func (b *Backend) dumpLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Periodic database dump failed", "error", err)
			}
		}
	}
}
