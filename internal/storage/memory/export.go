// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aerolab/flighttrials/internal/geo"
)

// TrialExport is the root JSON structure
type TrialExport struct {
	ID              uint      `json:"id"`
	URI             string    `json:"uri"`
	Maneuver        string    `json:"maneuver"`
	LogPath         string    `json:"logPath"`
	Metadata        any       `json:"metadata"`
	StartedAt       string    `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Rows            int       `json:"rows"`
	Dropped         int       `json:"dropped"`
	Overspeeds      int       `json:"overspeeds"`
	Error           string    `json:"error,omitempty"`
	Origin          []float64 `json:"origin,omitempty"` // [long, lat]
	TrackLength     float64   `json:"trackLength"`
	Samples         [][]any   `json:"samples"`
}

// exportJSON writes one trial to <outputDir>/<date>-trial-<id>.json[.gz]
func (b *Backend) exportJSON(record *TrialRecord) (string, error) {
	export := b.buildExport(record)

	timestamp := record.Trial.StartedAt.Format("20060102_150405")
	filename := fmt.Sprintf("%s-trial-%d.json", timestamp, record.Trial.ID)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

func (b *Backend) buildExport(record *TrialRecord) TrialExport {
	t := record.Trial
	export := TrialExport{
		ID:              t.ID,
		URI:             t.URI,
		Maneuver:        t.Maneuver,
		LogPath:         t.LogPath,
		Metadata:        t.Metadata,
		StartedAt:       t.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DurationSeconds: t.Duration().Seconds(),
		Rows:            t.Rows,
		Dropped:         t.Dropped,
		Overspeeds:      t.Overspeeds,
		Error:           t.Error,
		TrackLength:     geo.GroundLength(geo.Track(record.Records)),
		Samples:         make([][]any, 0, len(record.Records)),
	}
	if b.origin != nil {
		export.Origin = []float64{b.origin.Longitude, b.origin.Latitude}
	}

	// Format: [timestamp, [x, y, z], [vx, vy, vz], vbat, batteryLevel, [long, lat]?]
	for _, r := range record.Records {
		s := r.State
		sample := []any{
			r.Timestamp,
			[]float64{s.Position.X, s.Position.Y, s.Position.Z},
			[]float64{s.Velocity.X, s.Velocity.Y, s.Velocity.Z},
			s.BatteryVoltage,
			s.BatteryPercent,
		}
		if b.origin != nil {
			long, lat := b.origin.ToLonLat(s.Position)
			sample = append(sample, []float64{long, lat})
		}
		export.Samples = append(export.Samples, sample)
	}

	return export
}

func writeJSON(path string, data TrialExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data TrialExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gzWriter.Close()
}
