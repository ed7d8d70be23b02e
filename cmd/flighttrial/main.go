package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/logging"
	intOtel "github.com/aerolab/flighttrials/internal/otel"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "flighttrial"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// session holds the process-wide services every command shares.
type session struct {
	Start       time.Time
	SlogManager *logging.SlogManager
	Logger      *slog.Logger
	// TraceLogger is the sampled zerolog logger for per-frame bridge and
	// database logs.
	TraceLogger  zerolog.Logger
	OTelProvider *intOtel.Provider

	// activeVehicles is reported on every log record.
	activeVehicles atomic.Int64

	closers []io.Closer
}

// newSession loads the config from configDir and sets up logging. A
// missing config file is not an error; defaults apply.
func newSession(configDir, logLevel string) (*session, error) {
	s := &session{
		Start:       time.Now(),
		SlogManager: logging.NewSlogManager(),
	}

	configErr := config.Load(configDir)
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}
	level := viper.GetString("logLevel")

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating logs dir: %w", err)
	}
	fail := func(err error) (*session, error) {
		for _, c := range s.closers {
			_ = c.Close()
		}
		return nil, err
	}

	files := logging.NewSessionFiles(logsDir, AppName, s.Start)
	logFile, err := os.OpenFile(files.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	s.closers = append(s.closers, logFile)

	otelCfg := config.GetOTelConfig()
	var otelLogWriter io.Writer
	if otelCfg.Enabled {
		otelLogFile, err := os.OpenFile(files.OTel, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fail(fmt.Errorf("error opening otel log file: %w", err))
		}
		s.closers = append(s.closers, otelLogFile)
		otelLogWriter = otelLogFile
	}

	s.OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelLogWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fail(fmt.Errorf("error setting up OpenTelemetry: %w", err))
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "GELF sink disabled: %v\n", err)
		} else {
			extra = append(extra, h)
			s.closers = append(s.closers, closer)
		}
	}

	s.SlogManager.Setup(logFile, level, s.OTelProvider.LoggerProvider(), extra...)
	s.SlogManager.WithContext(func() []slog.Attr {
		return []slog.Attr{slog.Int64("active_vehicles", s.activeVehicles.Load())}
	})
	s.Logger = s.SlogManager.Logger()
	s.TraceLogger = logging.NewTraceLogger(logFile, level)

	if configErr != nil {
		s.Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		s.Logger.Info("Loaded config", "dir", configDir)
	}
	s.Logger.Info("Session started", "version", CurrentVersion, "build", BuildDate)

	return s, nil
}

// Close flushes telemetry and closes every log sink.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error flushing logs: %v\n", err)
	}
	if err := s.OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down OpenTelemetry: %v\n", err)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}
