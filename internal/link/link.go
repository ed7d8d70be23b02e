// Package link defines how the controller talks to a vehicle: setpoint and
// high-level commands, firmware parameters, and periodic telemetry.
package link

import (
	"context"
	"errors"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// ErrTransport wraps every failure of the underlying transport. Callers treat
// it as fatal for the current maneuver.
var ErrTransport = errors.New("link transport error")

// Commander sends motion commands.
type Commander interface {
	SendPositionSetpoint(ctx context.Context, sp core.Setpoint) error
	TakeOff(ctx context.Context, height float64, duration time.Duration) error
	Land(ctx context.Context, height float64, duration time.Duration) error
	GoTo(ctx context.Context, sp core.Setpoint, duration time.Duration, relative bool) error
	Stop(ctx context.Context) error
}

// Params reads and writes firmware parameters.
type Params interface {
	SetParam(ctx context.Context, name string, value float64) error
	GetParam(ctx context.Context, name string) (float64, error)
}

// Subscription is a running telemetry feed. Samples is closed after Stop.
type Subscription interface {
	Samples() <-chan core.Sample
	Stop()
}

// Telemetry starts periodic telemetry feeds.
type Telemetry interface {
	Subscribe(ctx context.Context, channels []string, period time.Duration) (Subscription, error)
}

// Link is a connection to one vehicle.
type Link interface {
	Commander
	Params
	Telemetry
	URI() string
}
