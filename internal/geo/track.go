package geo

import (
	"github.com/aerolab/flighttrials/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Track builds the flown path from records in arrival order as an XYZ
// LineString in lab coordinates. Fewer than two records give an empty line.
func Track(records []core.TelemetryRecord) geom.LineString {
	if len(records) < 2 {
		return geom.LineString{}
	}

	flat := make([]float64, 0, len(records)*3)
	for _, r := range records {
		p := r.State.Position
		flat = append(flat, p.X, p.Y, p.Z)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXYZ))
}

// TrackWKT returns the track as WKT, or "" for an empty track.
func TrackWKT(ls geom.LineString) string {
	if ls.IsEmpty() {
		return ""
	}
	return ls.AsText()
}

// GroundLength returns the horizontal distance covered by the track.
func GroundLength(ls geom.LineString) float64 {
	return ls.Length()
}
