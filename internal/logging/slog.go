package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const otelScope = "flighttrials"

// SlogManager owns the application logger: a text sink, the optional OTel
// bridge and any extra sinks such as GELF.
type SlogManager struct {
	// Console receives text records when Setup is given no file.
	Console io.Writer

	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{Console: os.Stdout}
}

// parseLevel accepts slog level names in any case. Anything else is info.
func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// handlerOptions stamps records in UTC RFC3339 so logs from several
// machines line up with the trial logs.
func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
				a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
			}
			return a
		},
	}
}

// Setup replaces the logger. Text records go to file, or to Console when
// file is nil. A nil provider disables the OTel bridge.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	out := file
	if out == nil {
		out = m.Console
	}

	sinks := []slog.Handler{slog.NewTextHandler(out, handlerOptions(parseLevel(level)))}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler(otelScope, otelslog.WithLoggerProvider(provider)))
	}
	sinks = append(sinks, extra...)

	m.provider = provider
	m.logger = slog.New(NewFanout(sinks...))
	m.logger.Info("Logging initialized", "level", level)
}

// WithContext adds attrs, evaluated per record, to everything logged from
// now on. It does nothing before Setup.
func (m *SlogManager) WithContext(attrs AttrFunc) {
	if m.logger == nil {
		return
	}
	m.logger = slog.New(liveAttrs{Handler: m.logger.Handler(), attrs: attrs})
}

// Logger falls back to slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
