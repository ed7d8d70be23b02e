package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/trial"
	"github.com/aerolab/flighttrials/internal/trialfile"
	"github.com/aerolab/flighttrials/pkg/core"
)

// writeConfig writes a fast simulated setup into a temp dir and returns it.
// Every output of the run lands under the same dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	t.Cleanup(viper.Reset)

	root := t.TempDir()
	body := `{
		"logLevel": "debug",
		"logsDir": "` + filepath.ToSlash(filepath.Join(root, "applogs")) + `",
		"trial": {
			"logFolder": "` + filepath.ToSlash(filepath.Join(root, "logs")) + `",
			"tick": "10ms",
			"defaultHeight": 0.5,
			"defaultDuration": "100ms",
			"defaultDelay": "10ms",
			"telemetryPeriod": "10ms",
			"landTimeout": "1s",
			"estimatorSettle": "0s"
		},
		"vehicles": [
			{"uri": "radio://0/80/2M/E7E7E7E701", "role": "leader", "start": [0, 0, 0]},
			{"uri": "radio://0/80/2M/E7E7E7E702", "role": "follower", "start": [0, 1, 0]}
		],
		"storage": {
			"type": "memory",
			"memory": {"outputDir": "` + filepath.ToSlash(filepath.Join(root, "recordings")) + `", "compressOutput": false}
		}` + extra + `
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte(body), 0644))
	return root
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), nil, &out))
	assert.Equal(t, 1, run(context.Background(), []string{"jump"}, &out))
	assert.Equal(t, 0, run(context.Background(), []string{"help"}, &out))
	assert.Contains(t, out.String(), "usage: flighttrial")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"version"}, &out))
	assert.Contains(t, out.String(), CurrentVersion)
}

func TestParseFlyFlags(t *testing.T) {
	f, err := parseFlyFlags([]string{
		"--maneuver", "sweep", "--distance", "2", "--speeds", "0.3,0.5",
		"--h-sep", "0.4", "--v-sep", "0.2", "--trial", "3", "--sim",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ManeuverSpeedSweep, f.maneuver)
	assert.Equal(t, []float64{0.3, 0.5}, f.speeds)
	assert.True(t, f.sim)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := f.params(start)
	assert.Equal(t, 2.0, p.Distance)
	assert.Equal(t, 0.4, p.HorizontalSeparation)
	assert.Equal(t, 0.2, p.HeightAboveDefault)
	assert.Equal(t, 3, p.Trial)
	assert.Equal(t, start, p.StartAt)
}

func TestParseFlyFlags_UnknownManeuver(t *testing.T) {
	_, err := parseFlyFlags([]string{"--maneuver", "loop"})
	require.ErrorIs(t, err, trial.ErrConfiguration)
}

func TestFly_SimulatedDiagnostic(t *testing.T) {
	root := writeConfig(t, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{
		"fly", "--sim", "--skip-preflight", "--maneuver", "diagnostic",
		"--hover", "50ms", "--config-dir", root,
	}, &out)
	require.Equal(t, 0, code, out.String())

	logs, err := filepath.Glob(filepath.Join(root, "logs", "*.csv"))
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	for _, p := range logs {
		l, err := trialfile.Read(p)
		require.NoError(t, err)
		assert.NotEmpty(t, l.Records, p)
	}

	exports, err := filepath.Glob(filepath.Join(root, "recordings", "*-trial-*.json"))
	require.NoError(t, err)
	assert.Len(t, exports, 2)

	_, err = os.Stat(filepath.Join(root, "applogs", "status.json"))
	assert.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out.String(), "\tok\n"))
}

func TestFly_FormationNeedsRoles(t *testing.T) {
	dir := writeConfig(t, `,
		"vehicles": [{"uri": "radio://0/80/2M/E7E7E7E701", "role": "wingman"}]`)

	var out bytes.Buffer
	code := run(context.Background(), []string{
		"fly", "--sim", "--skip-preflight", "--maneuver", "formation", "--config-dir", dir,
	}, &out)
	assert.Equal(t, 1, code)
}

func TestFly_UnknownStorageType(t *testing.T) {
	dir := writeConfig(t, "")
	require.NoError(t, config.Load(dir))
	viper.Set("storage.type", "tape")

	_, err := createStorageBackend(config.GetStorageConfig(), nil, slog.New(slog.DiscardHandler), zerolog.Nop())
	require.Error(t, err)
}

func TestBattery_UntilCharged(t *testing.T) {
	dir := writeConfig(t, "")

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := run(ctx, []string{"battery", "--sim", "--until", "3.5", "--period", "10ms", "--config-dir", dir}, &out)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		parts := strings.Split(line, ",")
		require.Len(t, parts, 2)
		assert.True(t, strings.HasPrefix(parts[0], "radio://"))
	}
}

func TestLightCheck_Sim(t *testing.T) {
	dir := writeConfig(t, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{"lightcheck", "--sim", "--config-dir", dir}, &out)
	require.Equal(t, 0, code)
	assert.Equal(t, 2, strings.Count(out.String(), "\tok\n"))
}

func writeLog(t *testing.T, folder string, trialNo int, volts ...float64) {
	t.Helper()
	path, err := trialfile.Create(folder, core.TrialMetadata{
		Start:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Distance: 1,
		Velocity: 0.2,
		Trial:    trialNo,
	})
	require.NoError(t, err)

	w, err := trialfile.OpenAppend(path)
	require.NoError(t, err)
	for i, v := range volts {
		require.NoError(t, w.WriteRow(core.TelemetryRecord{
			URI:       "radio://0/80/2M/E7E7E7E701",
			Timestamp: uint64(1000 + i*1000),
			State: core.VehicleState{
				Position:       core.Vec3{X: float64(i) * 0.2, Z: 0.5},
				Velocity:       core.Vec3{X: 0.2},
				BatteryVoltage: v,
				BatteryPercent: (v - 3.0) / 1.2 * 100,
			},
		}))
	}
	require.NoError(t, w.Close())
}

func TestAnalyze_WritesSummary(t *testing.T) {
	folder := t.TempDir()
	writeLog(t, folder, 1, 4.1, 4.0, 3.9, 3.8)
	writeLog(t, folder, 2, 4.0)

	outPath := filepath.Join(t.TempDir(), "summary.csv")
	var out bytes.Buffer
	code := run(context.Background(), []string{"analyze", folder, "--out", outPath}, &out)
	require.Equal(t, 0, code)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(raw)), "\n")
	// header plus the four-sample log; the single-sample log cannot be fitted
	assert.Len(t, rows, 2)
	assert.Contains(t, out.String(), "wrote 1 summaries")
}

func TestAnalyze_NeedsFolder(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"analyze"}, &out))
	assert.Equal(t, 1, run(context.Background(), []string{"analyze", t.TempDir()}, &out))
}

func TestLabOrigin(t *testing.T) {
	t.Cleanup(viper.Reset)

	o, err := labOrigin("13.4,52.5")
	require.NoError(t, err)
	assert.Equal(t, 13.4, o.Longitude)

	_, err = labOrigin("north")
	require.Error(t, err)

	o, err = labOrigin("")
	require.NoError(t, err)
	assert.Nil(t, o)

	viper.Set("geo.enabled", true)
	viper.Set("geo.originLongitude", 2.35)
	viper.Set("geo.originLatitude", 48.85)
	o, err = labOrigin("")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 48.85, o.Latitude)
}
