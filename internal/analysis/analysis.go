// Package analysis reduces recorded trial logs to battery drain fits and
// per-trial summaries.
package analysis

import (
	"errors"
	"math"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when a fit has fewer than two distinct x values.
var ErrInsufficientData = errors.New("insufficient data for a linear fit")

// LinearFit is y = Intercept + Slope*x with Pearson correlation R over N points.
type LinearFit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R         float64 `json:"r"`
	N         int     `json:"n"`
}

// At evaluates the fit at x.
func (f LinearFit) At(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// Fit runs an ordinary least squares fit of ys on xs.
func Fit(xs, ys []float64) (LinearFit, error) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return LinearFit{}, ErrInsufficientData
	}
	if stat.Variance(xs, nil) == 0 {
		return LinearFit{}, ErrInsufficientData
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		// constant y
		r = 0
	}
	return LinearFit{Slope: beta, Intercept: alpha, R: r, N: len(xs)}, nil
}

// Seconds returns each record's vehicle time in seconds since the first record.
func Seconds(records []core.TelemetryRecord) []float64 {
	xs := make([]float64, len(records))
	if len(records) == 0 {
		return xs
	}
	t0 := records[0].Timestamp
	for i, r := range records {
		xs[i] = float64(int64(r.Timestamp)-int64(t0)) / 1000
	}
	return xs
}

// FitBatteryDrain fits battery voltage against seconds since the first record.
func FitBatteryDrain(records []core.TelemetryRecord) (LinearFit, error) {
	return fitChannel(records, func(s core.VehicleState) float64 { return s.BatteryVoltage })
}

// FitBatteryPercent fits battery level against seconds since the first record.
func FitBatteryPercent(records []core.TelemetryRecord) (LinearFit, error) {
	return fitChannel(records, func(s core.VehicleState) float64 { return s.BatteryPercent })
}

func fitChannel(records []core.TelemetryRecord, value func(core.VehicleState) float64) (LinearFit, error) {
	ys := make([]float64, len(records))
	for i, r := range records {
		ys[i] = value(r.State)
	}
	return Fit(Seconds(records), ys)
}

// Predicate selects records. origin is the vehicle timestamp of the first
// record passed to Filter.
type Predicate func(r core.TelemetryRecord, origin uint64) bool

// Filter keeps the records accepted by every predicate, in order.
func Filter(records []core.TelemetryRecord, preds ...Predicate) []core.TelemetryRecord {
	if len(records) == 0 {
		return nil
	}
	origin := records[0].Timestamp
	out := make([]core.TelemetryRecord, 0, len(records))
next:
	for _, r := range records {
		for _, p := range preds {
			if !p(r, origin) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out
}

// ValidBattery drops records with a non-positive battery voltage.
func ValidBattery() Predicate {
	return func(r core.TelemetryRecord, _ uint64) bool {
		return r.State.BatteryVoltage > 0
	}
}

// Airborne keeps records at or above minZ.
func Airborne(minZ float64) Predicate {
	return func(r core.TelemetryRecord, _ uint64) bool {
		return r.State.Position.Z >= minZ
	}
}

// Window keeps records in [from, to) measured from the first record.
func Window(from, to time.Duration) Predicate {
	return func(r core.TelemetryRecord, origin uint64) bool {
		at := time.Duration(int64(r.Timestamp)-int64(origin)) * time.Millisecond
		return at >= from && at < to
	}
}

// ForURI keeps records from one vehicle.
func ForURI(uri string) Predicate {
	return func(r core.TelemetryRecord, _ uint64) bool {
		return r.URI == uri
	}
}

// MovingAverage returns the trailing mean over window values. The first
// window-1 outputs average the values seen so far.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window < 1 {
		window = 1
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum / float64(min(i+1, window))
	}
	return out
}

// GroundSpeeds returns the horizontal speed of each record.
func GroundSpeeds(records []core.TelemetryRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = math.Hypot(r.State.Velocity.X, r.State.Velocity.Y)
	}
	return out
}
