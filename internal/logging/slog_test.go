package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestNewSessionFiles(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)
	f := NewSessionFiles(filepath.Join("var", "log"), "flighttrial", start)
	assert.Equal(t, filepath.Join("var", "log", "flighttrial.20260212_213836.log"), f.Log)
	assert.Equal(t, filepath.Join("var", "log", "flighttrial.20260212_213836.otel.jsonl"), f.OTel)
}

func TestSetup_Sinks(t *testing.T) {
	var file, console bytes.Buffer

	m := NewSlogManager()
	m.Console = &console
	m.Setup(&file, "info", nil)
	m.Logger().Info("takeoff", "uri", "radio://0/80/2M/E7E7E7E701")
	assert.Contains(t, file.String(), "takeoff")
	assert.Empty(t, console.String())

	file.Reset()
	m.Setup(nil, "info", nil)
	m.Logger().Info("landed")
	assert.Contains(t, console.String(), "landed")
	assert.NotContains(t, file.String(), "landed")
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"DEBUG", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"", false, true},
		{"chatty", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(&buf, tt.level, nil)
			m.Logger().Debug("dbg line")
			m.Logger().Info("info line")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("dbg line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info line")))
		})
	}
}

func TestSetup_UTCTimestamps(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)
	m.Logger().Info("x")
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, buf.String())
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestSetup_WithOTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", provider)
	m.Logger().Info("otel integrated")

	assert.Contains(t, buf.String(), "otel integrated")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestSetup_ExtraHandlerReceivesRecords(t *testing.T) {
	var fileBuf, gelfBuf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&fileBuf, "info", nil, newWriterHandler(&gelfBuf, "warn"))

	m.Logger().Info("only in file")
	m.Logger().Warn("overspeed", "uri", "radio://0/80/2M/E7E7E7E7E7")

	assert.Contains(t, fileBuf.String(), "only in file")
	assert.NotContains(t, gelfBuf.String(), "only in file")
	assert.Contains(t, gelfBuf.String(), `"msg":"overspeed"`)
	assert.Contains(t, gelfBuf.String(), `"uri":"radio://0/80/2M/E7E7E7E7E7"`)
}

func TestNewGELFHandler_InvalidAddress(t *testing.T) {
	_, _, err := NewGELFHandler("not a host:port:at all", "info")
	assert.Error(t, err)
}

func TestWithContext_EvaluatedPerRecord(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	active := 0
	m.WithContext(func() []slog.Attr {
		return []slog.Attr{slog.Int("active_vehicles", active)}
	})

	active = 2
	m.Logger().With("uri", "radio://0/80/2M/E7E7E7E701").WithGroup("trial").Info("tick", "n", 1)
	assert.Contains(t, buf.String(), "active_vehicles=2")
	assert.Contains(t, buf.String(), "trial.n=1")
}

func TestWithContext_BeforeSetupIsNoop(t *testing.T) {
	m := NewSlogManager()
	m.WithContext(func() []slog.Attr { return nil })
	assert.Equal(t, slog.Default(), m.Logger())
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	info := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug})

	f := NewFanout(nil, info, nil, debug)
	require.Len(t, f, 2)
	assert.True(t, f.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewFanout(info).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewFanout().Enabled(context.Background(), slog.LevelError))

	slog.New(f).Debug("only debug sink")
	assert.Empty(t, a.String())
	assert.Contains(t, b.String(), "only debug sink")

	slog.New(f.WithGroup("link").WithAttrs([]slog.Attr{slog.String("kind", "sim")})).Info("both")
	assert.Contains(t, a.String(), "link.kind=sim")
	assert.Contains(t, b.String(), "link.kind=sim")
	assert.Equal(t, f, f.WithGroup(""))
}

func TestFanout_FailingSinkDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	spy := slog.NewTextHandler(&buf, nil)

	f := NewFanout(failingHandler{}, spy)
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "reaches spy", 0)
	err := f.Handle(context.Background(), r)

	require.Error(t, err)
	assert.Contains(t, buf.String(), "reaches spy")
}
