package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Trace sampling: the first 50 lines of each second pass, then one in ten.
const (
	traceBurst  = 50
	traceSample = 10
)

// NewTraceLogger is the zerolog logger for per-frame paths such as bridge
// traffic and database batches. An unknown level falls back to info.
func NewTraceLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	sampler := &zerolog.BurstSampler{
		Burst:       traceBurst,
		Period:      time.Second,
		NextSampler: &zerolog.BasicSampler{N: traceSample},
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger().Sample(sampler)
}

// DispatcherLogger lets the event dispatcher log through zerolog.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, kv ...any) { emit(l.logger.Debug(), msg, kv) }
func (l *DispatcherLogger) Info(msg string, kv ...any)  { emit(l.logger.Info(), msg, kv) }
func (l *DispatcherLogger) Error(msg string, kv ...any) { emit(l.logger.Error(), msg, kv) }

// emit is a no-op for a nil event, which zerolog returns for disabled levels.
func emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	ev.Fields(toFields(kv)).Msg(msg)
}

// toFields pairs up kv. Non-string keys and a trailing key are dropped.
func toFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for len(kv) >= 2 {
		if key, ok := kv[0].(string); ok {
			fields[key] = kv[1]
		}
		kv = kv[2:]
	}
	return fields
}
