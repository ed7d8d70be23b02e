// Package database opens the trial database. Postgres is the lab server;
// SQLite serves single-machine runs, usually in memory with a dump to disk.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aerolab/flighttrials/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database kinds accepted by Manager.Connect.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

var ErrNoDumpPath = errors.New("sqlite dump path not set")

var memorySeq atomic.Uint64

// sqlitePragmas trade durability for write speed. The in-memory database
// reaches disk only through VacuumInto.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = MEMORY",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = -32000",
	"PRAGMA temp_store = MEMORY",
}

// Manager owns one database connection for a run.
type Manager struct {
	DB *gorm.DB
	// Fallback is set when the connection is in-memory SQLite, either by
	// request or because Postgres was unreachable.
	Fallback bool
	// DumpPath receives the in-memory database on Close.
	DumpPath string

	sqlDB *sql.DB
	log   zerolog.Logger
}

func NewManager(log zerolog.Logger, dumpPath string) *Manager {
	return &Manager{log: log, DumpPath: dumpPath}
}

// Connect opens a database of the given kind. A Postgres server that
// cannot be opened or pinged is replaced by in-memory SQLite.
func (m *Manager) Connect(kind string) error {
	switch kind {
	case KindPostgres:
		err := m.connectPostgres()
		if err == nil {
			m.log.Info().Msg("Connected to Postgres")
			return nil
		}
		m.log.Error().Err(err).Msg("Postgres unreachable, falling back to in-memory SQLite")
		return m.connectMemory()
	case KindSQLite:
		return m.connectMemory()
	default:
		return fmt.Errorf("unknown database kind %q", kind)
	}
}

func (m *Manager) connectPostgres() error {
	db, err := OpenPostgres(PostgresDSN())
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return err
	}
	sqlDB.SetMaxOpenConns(10)
	m.DB, m.sqlDB = db, sqlDB
	return nil
}

func (m *Manager) connectMemory() error {
	db, err := OpenSqlite("")
	if err != nil {
		return fmt.Errorf("opening in-memory SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("opening in-memory SQLite: %w", err)
	}
	// a single connection keeps the shared-cache database free of table locks
	sqlDB.SetMaxOpenConns(1)
	m.DB, m.sqlDB, m.Fallback = db, sqlDB, true
	m.log.Info().Str("dumpPath", m.DumpPath).Msg("Using in-memory SQLite")
	return nil
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	if m.DB == nil {
		return errors.New("database not connected")
	}
	start := time.Now()
	if err := Migrate(m.DB); err != nil {
		return err
	}
	m.log.Debug().Dur("duration", time.Since(start)).Msg("Schema migrated")
	return nil
}

// Close dumps an in-memory database to DumpPath, when set, and closes the
// connection.
func (m *Manager) Close() error {
	if m.sqlDB == nil {
		return nil
	}
	var errs []error
	if m.Fallback && m.DumpPath != "" {
		start := time.Now()
		if err := VacuumInto(m.DB, m.DumpPath); err != nil {
			errs = append(errs, err)
		} else {
			m.log.Info().Str("path", m.DumpPath).Dur("duration", time.Since(start)).Msg("Dumped in-memory database")
		}
	}
	errs = append(errs, m.sqlDB.Close())
	m.sqlDB = nil
	return errors.Join(errs...)
}

// PostgresDSN builds a DSN from the db.* config keys.
func PostgresDSN() string {
	kv := []string{
		"host=" + viper.GetString("db.host"),
		"port=" + viper.GetString("db.port"),
		"user=" + viper.GetString("db.username"),
		"password=" + viper.GetString("db.password"),
		"dbname=" + viper.GetString("db.database"),
		"sslmode=disable",
		"connect_timeout=5",
	}
	return strings.Join(kv, " ")
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        5000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// OpenSqlite opens the database file at path. An empty path opens a fresh
// in-memory database that no other call shares.
func OpenSqlite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:flighttrials-%d?mode=memory&cache=shared", memorySeq.Add(1))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Migrate creates or updates every table in model.DatabaseModels.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// VacuumInto writes a consistent snapshot of db to path, replacing any
// earlier snapshot there.
func VacuumInto(db *gorm.DB, path string) error {
	if path == "" {
		return ErrNoDumpPath
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old dump: %w", err)
	}
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("dumping database to %s: %w", path, err)
	}
	return nil
}
