// Package convert maps between core types and their GORM models
package convert

import (
	"database/sql"
	"encoding/json"

	"github.com/aerolab/flighttrials/internal/geo"
	"github.com/aerolab/flighttrials/internal/model"
	"github.com/aerolab/flighttrials/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// TrialToModel converts a core.Trial and its flown track to a GORM Trial.
// The core ID becomes the row's primary key when set.
func TrialToModel(t *core.Trial, track geom.LineString) model.Trial {
	m := model.Trial{
		URI:                  t.URI,
		Maneuver:             t.Maneuver,
		LogPath:              t.LogPath,
		StartedAt:            t.StartedAt,
		Distance:             t.Metadata.Distance,
		Velocity:             t.Metadata.Velocity,
		HorizontalSeparation: t.Metadata.HorizontalSeparation,
		HeightAboveDefault:   t.Metadata.HeightAboveDefault,
		TrialNumber:          t.Metadata.Trial,
		Rows:                 t.Rows,
		Dropped:              t.Dropped,
		Overspeeds:           t.Overspeeds,
		Error:                t.Error,
		TrackWKT:             geo.TrackWKT(track),
		TrackLength:          geo.GroundLength(track),
	}
	m.ID = t.ID
	if !t.EndedAt.IsZero() {
		m.EndedAt = sql.NullTime{Time: t.EndedAt, Valid: true}
	}
	if raw, err := json.Marshal(t.Metadata); err == nil {
		m.Metadata = datatypes.JSON(raw)
	}
	return m
}

// TrialToCore converts a GORM Trial back to a core.Trial.
func TrialToCore(m model.Trial) core.Trial {
	t := core.Trial{
		ID:        m.ID,
		URI:       m.URI,
		Maneuver:  m.Maneuver,
		LogPath:   m.LogPath,
		StartedAt: m.StartedAt,
		Metadata: core.TrialMetadata{
			Start:                m.StartedAt,
			Distance:             m.Distance,
			Velocity:             m.Velocity,
			HorizontalSeparation: m.HorizontalSeparation,
			HeightAboveDefault:   m.HeightAboveDefault,
			Trial:                m.TrialNumber,
		},
		Rows:       m.Rows,
		Dropped:    m.Dropped,
		Overspeeds: m.Overspeeds,
		Error:      m.Error,
	}
	if m.EndedAt.Valid {
		t.EndedAt = m.EndedAt.Time
	}
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &t.Metadata)
	}
	return t
}

// RecordToSample converts a telemetry record to a GORM TelemetrySample row.
func RecordToSample(trialID uint, r core.TelemetryRecord) model.TelemetrySample {
	s := r.State
	return model.TelemetrySample{
		TrialID:          trialID,
		Time:             r.Received,
		VehicleTimestamp: r.Timestamp,
		URI:              r.URI,
		X:                s.Position.X,
		Y:                s.Position.Y,
		Z:                s.Position.Z,
		VX:               s.Velocity.X,
		VY:               s.Velocity.Y,
		VZ:               s.Velocity.Z,
		BatteryVoltage:   s.BatteryVoltage,
		BatteryPercent:   s.BatteryPercent,
	}
}

// SampleToRecord converts a GORM TelemetrySample back to a telemetry record.
func SampleToRecord(s model.TelemetrySample) core.TelemetryRecord {
	return core.TelemetryRecord{
		URI:       s.URI,
		Timestamp: s.VehicleTimestamp,
		Received:  s.Time,
		State: core.VehicleState{
			Position:       core.Vec3{X: s.X, Y: s.Y, Z: s.Z},
			Velocity:       core.Vec3{X: s.VX, Y: s.VY, Z: s.VZ},
			BatteryVoltage: s.BatteryVoltage,
			BatteryPercent: s.BatteryPercent,
		},
	}
}
