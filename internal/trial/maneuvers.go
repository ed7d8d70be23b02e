package trial

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// Role is a vehicle's place in a formation pass.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// ParseRole accepts "leader" or "follower".
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleLeader, RoleFollower:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrConfiguration, s)
	}
}

const (
	defaultVelocity = 0.2
	// returnVelocity is used to fly back after a sweep pass and for MoveForward.
	returnVelocity = 0.2
	// minForwardDistance is the smallest MoveForward distance worth flying.
	minForwardDistance = 0.001
)

// squareCorners are visited in order at the current height.
var squareCorners = [][2]float64{
	{-1.5, -1},
	{1.5, -1},
	{1.5, 1},
	{-1.5, 1},
}

// trialAxis is the unit direction of straight-line trials in the lab frame.
var trialAxis = core.Vec3{X: -1 / math.Sqrt2, Y: 1 / math.Sqrt2}

// Params are the per-trial inputs, written into the log preamble.
type Params struct {
	Distance             float64
	Velocity             float64
	HorizontalSeparation float64
	HeightAboveDefault   float64
	Trial                int

	// StartAt is the shared start barrier for formation passes.
	StartAt time.Time
	// Hover is the diagnostic hover duration.
	Hover time.Duration
}

func (p Params) metadata(start time.Time) core.TrialMetadata {
	return core.TrialMetadata{
		Start:                start,
		Distance:             p.Distance,
		Velocity:             p.Velocity,
		HorizontalSeparation: p.HorizontalSeparation,
		HeightAboveDefault:   p.HeightAboveDefault,
		Trial:                p.Trial,
	}
}

func (p Params) withDefaults() Params {
	if p.Velocity == 0 {
		p.Velocity = defaultVelocity
	}
	return p
}

// SquareLap takes off, visits the four square corners with a hover after
// each, and lands.
func (o *Orchestrator) SquareLap(ctx context.Context, p Params) (*core.Trial, error) {
	p = p.withDefaults()
	return o.record(ctx, frame{
		maneuver:      core.ManeuverSquareLap,
		params:        p,
		expectedSpeed: p.Velocity,
		land:          o.setpointLand,
		run: func(ctx context.Context) error {
			if err := o.stepper.TakeOff(ctx, o.cfg.DefaultHeight, o.cfg.DefaultDuration, 0); err != nil {
				return err
			}
			if err := o.stepper.Hover(ctx, o.cfg.DefaultDelay, 0); err != nil {
				return err
			}
			for i, c := range squareCorners {
				target := core.Vec3{X: c[0], Y: c[1], Z: o.state.Read().Position.Z}
				if err := o.stepper.MoveToPosition(ctx, target, p.Velocity, 0); err != nil {
					return fmt.Errorf("corner %d: %w", i+1, err)
				}
				if err := o.stepper.Hover(ctx, o.cfg.DefaultDelay, 0); err != nil {
					return fmt.Errorf("corner %d: %w", i+1, err)
				}
			}
			return o.stepper.Land(ctx, o.cfg.DefaultDuration)
		},
	})
}

// LeaderFollowerLap flies one straight pass along x from the vehicle's
// start. The leader's pass is shifted forward by the horizontal separation
// and the follower flies higher by HeightAboveDefault, so the leader is
// always ahead. Both hold at their pass start until p.StartAt.
func (o *Orchestrator) LeaderFollowerLap(ctx context.Context, p Params, role Role) (*core.Trial, error) {
	p = p.withDefaults()

	height := o.cfg.DefaultHeight
	var offset float64
	switch role {
	case RoleLeader:
		offset = p.HorizontalSeparation
	case RoleFollower:
		height += p.HeightAboveDefault
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrConfiguration, role)
	}

	return o.record(ctx, frame{
		maneuver:      core.ManeuverLeaderFollower,
		params:        p,
		expectedSpeed: p.Velocity,
		land:          o.setpointLand,
		run: func(ctx context.Context) error {
			origin := o.state.Read().Position
			passStart := core.Vec3{X: origin.X + offset, Y: origin.Y, Z: height}
			passEnd := passStart.Add(core.Vec3{X: p.Distance})

			if err := o.stepper.TakeOff(ctx, height, o.cfg.DefaultDuration, 0); err != nil {
				return err
			}
			if err := o.stepper.MoveToPosition(ctx, passStart, returnVelocity, 0); err != nil {
				return fmt.Errorf("to pass start: %w", err)
			}
			if p.StartAt.IsZero() {
				if err := o.stepper.Hover(ctx, o.cfg.DefaultDelay, 0); err != nil {
					return err
				}
			} else if err := o.stepper.HoverUntil(ctx, p.StartAt, 0); err != nil {
				return fmt.Errorf("waiting for start: %w", err)
			}
			if err := o.stepper.MoveToPosition(ctx, passEnd, p.Velocity, 0); err != nil {
				return fmt.Errorf("pass: %w", err)
			}
			if err := o.stepper.Hover(ctx, o.cfg.DefaultDelay, 0); err != nil {
				return err
			}
			return o.stepper.Land(ctx, o.cfg.DefaultDuration)
		},
	})
}

// DiagnosticFlight takes off, hovers and lands.
func (o *Orchestrator) DiagnosticFlight(ctx context.Context, p Params) (*core.Trial, error) {
	hover := p.Hover
	if hover <= 0 {
		hover = o.cfg.DefaultDuration
	}
	return o.record(ctx, frame{
		maneuver: core.ManeuverDiagnostic,
		params:   p,
		land:     o.setpointLand,
		run: func(ctx context.Context) error {
			if err := o.stepper.TakeOff(ctx, o.cfg.DefaultHeight, o.cfg.DefaultDuration, 0); err != nil {
				return err
			}
			if err := o.stepper.Hover(ctx, hover, 0); err != nil {
				return err
			}
			return o.stepper.Land(ctx, o.cfg.DefaultDuration)
		},
	})
}

// SpeedSweep flies the trial axis out and back once per speed with the
// onboard planner. Only the outbound pass is recorded. Speeds above the
// configured maximum are skipped.
func (o *Orchestrator) SpeedSweep(ctx context.Context, p Params, speeds []float64) ([]*core.Trial, error) {
	out := trialAxis.Scale(p.Distance)
	height := o.cfg.DefaultHeight + p.HeightAboveDefault

	var trials []*core.Trial
	for _, speed := range speeds {
		if speed > o.cfg.MaxSpeed {
			o.logger.Warn("speed over limit, skipped", "speed", speed, "max", o.cfg.MaxSpeed)
			continue
		}
		if err := ctx.Err(); err != nil {
			return trials, err
		}

		if err := o.stepper.HighLevelTakeOff(ctx, height, o.cfg.DefaultDuration); err != nil {
			return trials, o.abort(ctx, fmt.Errorf("sweep at %v m/s: %w", speed, err))
		}

		pass := p
		pass.Velocity = speed
		t, err := o.record(ctx, frame{
			maneuver:      core.ManeuverSpeedSweep,
			params:        pass,
			expectedSpeed: speed,
			land:          o.highLevelLand,
			run: func(ctx context.Context) error {
				return o.stepper.GoToRelative(ctx, out, speed)
			},
		})
		if t != nil {
			trials = append(trials, t)
		}
		if err != nil {
			// record has already landed the vehicle
			return trials, err
		}

		if err := o.stepper.GoToRelative(ctx, out.Scale(-1), returnVelocity); err != nil {
			return trials, o.abort(ctx, fmt.Errorf("sweep return: %w", err))
		}
		if err := o.stepper.HighLevelLand(ctx, o.cfg.DefaultDuration); err != nil {
			return trials, fmt.Errorf("sweep land: %w", err)
		}
	}
	return trials, nil
}

// MoveForward flies p.Distance along the trial axis with the onboard
// planner. Distances under a millimeter are skipped and return no trial.
func (o *Orchestrator) MoveForward(ctx context.Context, p Params) (*core.Trial, error) {
	if math.Abs(p.Distance) < minForwardDistance {
		o.logger.Debug("move forward skipped", "distance", p.Distance)
		return nil, nil
	}
	p.Velocity = returnVelocity

	return o.record(ctx, frame{
		maneuver:      core.ManeuverMoveForward,
		params:        p,
		expectedSpeed: returnVelocity,
		land:          o.highLevelLand,
		run: func(ctx context.Context) error {
			if err := o.stepper.HighLevelTakeOff(ctx, o.cfg.DefaultHeight, o.cfg.DefaultDuration); err != nil {
				return err
			}
			if err := o.stepper.GoToRelative(ctx, trialAxis.Scale(p.Distance), returnVelocity); err != nil {
				return err
			}
			return o.stepper.HighLevelLand(ctx, o.cfg.DefaultDuration)
		},
	})
}

// abort lands with the onboard planner outside any trial frame.
func (o *Orchestrator) abort(ctx context.Context, err error) error {
	o.logger.Error("aborting, landing", "error", err)
	if landErr := o.emergencyLand(ctx, o.highLevelLand); landErr != nil {
		return errors.Join(err, fmt.Errorf("landing after failure: %w", landErr))
	}
	return err
}
