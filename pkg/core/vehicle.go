// pkg/core/vehicle.go
package core

import "math"

// Vec3 is a position or velocity in the lab frame, in meters or m/s.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v multiplied by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// VehicleState is the last known state of a vehicle as reported by telemetry.
type VehicleState struct {
	Position       Vec3    `json:"position"`
	Velocity       Vec3    `json:"velocity"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	BatteryPercent float64 `json:"batteryPercent"`
}

// Setpoint is a single target pose sent to the vehicle's low-level controller.
// Yaw is in degrees.
type Setpoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

// SetpointAt builds a setpoint from a position and yaw.
func SetpointAt(p Vec3, yaw float64) Setpoint {
	return Setpoint{X: p.X, Y: p.Y, Z: p.Z, Yaw: yaw}
}

// Position returns the setpoint's target position.
func (s Setpoint) Position() Vec3 {
	return Vec3{X: s.X, Y: s.Y, Z: s.Z}
}
