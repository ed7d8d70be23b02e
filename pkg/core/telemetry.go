// pkg/core/telemetry.go
package core

import (
	"fmt"
	"math"
	"time"
)

// Telemetry channel names as exposed by the vehicle's logging subsystem.
const (
	ChannelX              = "stateEstimate.x"
	ChannelY              = "stateEstimate.y"
	ChannelZ              = "stateEstimate.z"
	ChannelVX             = "stateEstimate.vx"
	ChannelVY             = "stateEstimate.vy"
	ChannelVZ             = "stateEstimate.vz"
	ChannelBatteryVoltage = "pm.vbat"
	ChannelBatteryLevel   = "pm.batteryLevel"
)

// TrialChannels is the fixed channel set recorded during a trial, in log column order.
var TrialChannels = []string{
	ChannelX, ChannelY, ChannelZ,
	ChannelVX, ChannelVY, ChannelVZ,
	ChannelBatteryVoltage, ChannelBatteryLevel,
}

// Sample is one raw telemetry delivery from a link.
// Timestamp is the vehicle clock in milliseconds.
type Sample struct {
	URI       string             `json:"uri"`
	Timestamp uint64             `json:"timestamp"`
	Data      map[string]float64 `json:"data"`
}

// TelemetryRecord is a validated sample.
type TelemetryRecord struct {
	URI       string       `json:"uri"`
	Timestamp uint64       `json:"timestamp"`
	Received  time.Time    `json:"received"`
	State     VehicleState `json:"state"`
}

// MissingChannelError reports a sample without a required channel value.
type MissingChannelError struct {
	Channel string
}

func (e *MissingChannelError) Error() string {
	return fmt.Sprintf("sample missing channel %q", e.Channel)
}

// Record extracts the trial channels from a sample. Every channel must be
// present and finite.
func (s Sample) Record(received time.Time) (TelemetryRecord, error) {
	vals := make([]float64, len(TrialChannels))
	for i, ch := range TrialChannels {
		v, ok := s.Data[ch]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return TelemetryRecord{}, &MissingChannelError{Channel: ch}
		}
		vals[i] = v
	}
	return TelemetryRecord{
		URI:       s.URI,
		Timestamp: s.Timestamp,
		Received:  received,
		State: VehicleState{
			Position:       Vec3{X: vals[0], Y: vals[1], Z: vals[2]},
			Velocity:       Vec3{X: vals[3], Y: vals[4], Z: vals[5]},
			BatteryVoltage: vals[6],
			BatteryPercent: vals[7],
		},
	}, nil
}
