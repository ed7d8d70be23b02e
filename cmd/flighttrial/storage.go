package main

import (
	"fmt"
	"log/slog"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/geo"
	"github.com/aerolab/flighttrials/internal/influx"
	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/internal/storage/memory"
	pgstorage "github.com/aerolab/flighttrials/internal/storage/postgres"
	sqlitestorage "github.com/aerolab/flighttrials/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// initStorage creates and initializes the configured backends. Database
// backends come first so they assign trial IDs before the others see the
// trial.
func (s *session) initStorage(origin *geo.Origin) (storage.Multi, error) {
	storageCfg := config.GetStorageConfig()

	var backends storage.Multi

	primary, err := createStorageBackend(storageCfg, origin, s.Logger, s.TraceLogger)
	if err != nil {
		s.Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if primary != nil {
		backends = append(backends, primary)
	}

	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		m := influx.NewManager(s.TraceLogger.With().Str("component", "influx").Logger(), influxCfg)
		backends = append(backends, influx.NewBackend(m))
		s.Logger.Info("InfluxDB storage backend initialized", "url", influxCfg.URL())
	}

	if err := backends.Init(); err != nil {
		s.Logger.Error("Failed to initialize storage backend", "error", err)
		_ = backends.Close()
		return nil, err
	}
	return backends, nil
}

func createStorageBackend(storageCfg config.StorageConfig, origin *geo.Origin, logger *slog.Logger, trace zerolog.Logger) (storage.Backend, error) {
	switch storageCfg.Type {
	case "none":
		logger.Info("Storage disabled")
		return nil, nil

	case "postgres":
		logger.Info("Postgres storage backend initialized")
		return pgstorage.New("", logger), nil

	case "sqlite", "auto":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval:   storageCfg.SQLite.DumpInterval,
			DumpPath:       storageCfg.SQLite.Path,
			PreferPostgres: storageCfg.Type == "auto",
			Trace:          trace.With().Str("component", "database").Logger(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s storage backend: %w", storageCfg.Type, err)
		}
		logger.Info("Database storage backend initialized", "type", storageCfg.Type, "inMemory", backend.InMemory(), "dumpPath", storageCfg.SQLite.Path)
		return backend, nil

	case "memory", "":
		logger.Info("Memory storage backend initialized", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory, origin), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// storageDB returns the first initialized GORM connection among backends,
// or nil when none of them is database backed.
func storageDB(backends storage.Multi) *gorm.DB {
	for _, b := range backends {
		switch v := b.(type) {
		case *sqlitestorage.Backend:
			return v.DB()
		case *pgstorage.Backend:
			if v.Backend != nil {
				return v.DB()
			}
		}
	}
	return nil
}

// labOrigin resolves the geo origin. The flag value, "long,lat", wins over
// the config.
func labOrigin(flagValue string) (*geo.Origin, error) {
	if flagValue != "" {
		o, err := geo.ParseOrigin(flagValue)
		if err != nil {
			return nil, fmt.Errorf("--origin %q: %w", flagValue, err)
		}
		return &o, nil
	}
	geoCfg := config.GetGeoConfig()
	if !geoCfg.Enabled {
		return nil, nil
	}
	o, err := geo.ParseOrigin(fmt.Sprintf("%v,%v", geoCfg.OriginLongitude, geoCfg.OriginLatitude))
	if err != nil {
		return nil, fmt.Errorf("geo origin: %w", err)
	}
	return &o, nil
}
