// internal/storage/memory/export_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/geo"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTrial(t *testing.T, b *Backend) *core.Trial {
	t.Helper()
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	trial := &core.Trial{
		URI:       "radio://0/80/2M/E7E7E7E7E7",
		Maneuver:  core.ManeuverSquareLap,
		LogPath:   "logs/square.txt",
		StartedAt: start,
		Metadata:  core.TrialMetadata{Start: start, Velocity: 0.2, Trial: 1},
	}
	require.NoError(t, b.StartTrial(trial))

	positions := []core.Vec3{{X: -1.5, Y: -1, Z: 1.5}, {X: 1.5, Y: -1, Z: 1.5}}
	for i, p := range positions {
		require.NoError(t, b.RecordTelemetry(trial.ID, core.TelemetryRecord{
			Timestamp: uint64(1000 + 100*i),
			State:     core.VehicleState{Position: p, BatteryVoltage: 3.9, BatteryPercent: 75},
		}))
	}

	trial.EndedAt = start.Add(15 * time.Second)
	trial.Rows = 2
	require.NoError(t, b.EndTrial(trial))
	return trial
}

func readExport(t *testing.T, path string, compressed bool) TrialExport {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gz.Close()
		r = gz
	}

	var export TrialExport
	require.NoError(t, json.NewDecoder(r).Decode(&export))
	return export
}

func TestExport_PlainJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir}, nil)

	trial := runTrial(t, b)

	path := b.ExportedFilePath(trial.ID)
	assert.Equal(t, filepath.Join(dir, "20240115_103000-trial-1.json"), path)

	export := readExport(t, path, false)
	assert.Equal(t, core.ManeuverSquareLap, export.Maneuver)
	assert.Equal(t, 15.0, export.DurationSeconds)
	assert.Equal(t, 2, export.Rows)
	assert.InDelta(t, 3.0, export.TrackLength, 1e-9)
	assert.Nil(t, export.Origin)
	require.Len(t, export.Samples, 2)
	// [timestamp, [x, y, z], [vx, vy, vz], vbat, batteryLevel]
	require.Len(t, export.Samples[0], 5)
	assert.Equal(t, 1000.0, export.Samples[0][0])
	assert.Equal(t, []any{-1.5, -1.0, 1.5}, export.Samples[0][1])
	assert.Equal(t, 75.0, export.Samples[1][4])
}

func TestExport_GzipWithOrigin(t *testing.T) {
	dir := t.TempDir()
	origin := geo.Origin{Longitude: 10, Latitude: 50}
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true}, &origin)

	trial := runTrial(t, b)

	path := b.ExportedFilePath(trial.ID)
	assert.Equal(t, ".gz", filepath.Ext(path))

	export := readExport(t, path, true)
	assert.Equal(t, []float64{10, 50}, export.Origin)
	require.Len(t, export.Samples[0], 6)

	lonLat, ok := export.Samples[0][5].([]any)
	require.True(t, ok)
	assert.InDelta(t, 10, lonLat[0].(float64), 0.001)
	assert.InDelta(t, 50, lonLat[1].(float64), 0.001)
	assert.Less(t, lonLat[0].(float64), 10.0)
}

func TestExport_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	b := New(config.MemoryConfig{OutputDir: dir}, nil)

	trial := runTrial(t, b)
	assert.FileExists(t, b.ExportedFilePath(trial.ID))
}
