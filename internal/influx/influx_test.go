package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/pkg/core"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Backend = (*Backend)(nil)

func unreachableConfig(t *testing.T) config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:    true,
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "flight-trials",
		BackupPath: filepath.Join(t.TempDir(), "backup.lp.gz"),
	}
}

func readBackup(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestBackend_FallsBackToBackupFile(t *testing.T) {
	cfg := unreachableConfig(t)
	m := NewManager(zerolog.Nop(), cfg)
	b := NewBackend(m)
	require.NoError(t, b.Init())
	assert.False(t, m.Online())

	start := time.Unix(1700000000, 0)
	trial := &core.Trial{ID: 3, URI: "radio://a", Maneuver: core.ManeuverSquareLap, StartedAt: start, EndedAt: start.Add(2 * time.Second), Rows: 1}
	require.NoError(t, b.StartTrial(trial))
	require.NoError(t, b.RecordTelemetry(trial.ID, core.TelemetryRecord{
		URI:       "radio://a",
		Timestamp: 42,
		Received:  start,
		State:     core.VehicleState{Position: core.Vec3{X: 1, Y: 2, Z: 1.5}, BatteryVoltage: 3.9},
	}))
	require.NoError(t, b.EndTrial(trial))
	require.NoError(t, b.Close())

	lines := readBackup(t, cfg.BackupPath)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "telemetry,")
	assert.Contains(t, lines[0], "uri=radio://a")
	assert.Contains(t, lines[0], "trial=3")
	assert.Contains(t, lines[0], "vehicle_ts=42u")
	assert.Contains(t, lines[0], "z=1.5")
	assert.Contains(t, lines[1], "trial,")
	assert.Contains(t, lines[1], "maneuver=square")
	assert.Contains(t, lines[1], "duration_s=2")
	assert.Contains(t, lines[1], "failed=false")
}

func TestWritePoint_NoWriter(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	err := m.WritePoint(BucketTelemetry, influxdb2_write.NewPointWithMeasurement("telemetry"))
	assert.ErrorIs(t, err, ErrNotConnected)

	m.writers = map[string]influxdb2_api.WriteAPI{}
	err = m.WritePoint("missing", influxdb2_write.NewPointWithMeasurement("telemetry"))
	assert.ErrorIs(t, err, ErrUnknownBucket)
}

func TestTrialPoint_Error(t *testing.T) {
	p := TrialPoint(&core.Trial{URI: "radio://a", Maneuver: core.ManeuverDiagnostic, Error: "link lost"})

	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, `error="link lost"`)
	assert.Contains(t, line, "failed=true")
}
