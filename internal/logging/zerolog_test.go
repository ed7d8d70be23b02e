package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(line, &entry))
	return entry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	dl.Debug("test message", "key1", "value1", "key2", 42)

	entry := decodeLine(t, buf.Bytes())
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "test message", entry["message"])
	assert.Equal(t, "value1", entry["key1"])
	assert.Equal(t, float64(42), entry["key2"])
}

func TestDispatcherLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("filtered")
	dl.Info("info message", "status", "ok")
	dl.Error("error message", "error", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "info", decodeLine(t, []byte(lines[0]))["level"])
	assert.Equal(t, "error", decodeLine(t, []byte(lines[1]))["level"])
}

func TestToFields_OddAndNonStringKeys(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, fields)
}

func TestNewTraceLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewTraceLogger(&buf, "warn")

	l.Info().Msg("hidden")
	l.Warn().Str("uri", "radio://0/80/2M/E7").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, `"time"`)
}

func TestNewTraceLogger_SamplesBursts(t *testing.T) {
	var buf bytes.Buffer
	l := NewTraceLogger(&buf, "trace")

	for i := 0; i < 200; i++ {
		l.Trace().Int("i", i).Msg("frame")
	}

	lines := strings.Count(buf.String(), "\n")
	assert.GreaterOrEqual(t, lines, 50)
	assert.Less(t, lines, 200)
}
