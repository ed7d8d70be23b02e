// Package stepper turns motion requests into fixed-rate setpoint streams.
// Every primitive dispatches one setpoint, sleeps one tick and repeats; the
// number of steps alone decides how long a maneuver takes.
package stepper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/pkg/core"
)

// DefaultTick is the canonical setpoint cadence.
const DefaultTick = 100 * time.Millisecond

// landFloorSteps is where the landing ramp stops. The last commanded height
// is two ticks above zero and the vehicle's ground handling finishes.
const landFloorSteps = 2

// ErrInvalidSpeed is returned for a non-positive speed.
var ErrInvalidSpeed = errors.New("speed must be positive")

// StateReader is the read side of a vehicle's state store.
type StateReader interface {
	Read() core.VehicleState
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Stepper drives one vehicle. It is not safe for concurrent use: a vehicle
// never receives two setpoint streams at once.
type Stepper struct {
	cmd   link.Commander
	state StateReader

	tick            time.Duration
	settle          time.Duration
	dispatchTimeout time.Duration
	sleep           SleepFunc
	now             func() time.Time
	logger          *slog.Logger
}

// Option configures a Stepper.
type Option func(*Stepper)

// WithTick sets the setpoint cadence.
func WithTick(d time.Duration) Option {
	return func(s *Stepper) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSettle sets the extra wait after high-level commands.
func WithSettle(d time.Duration) Option {
	return func(s *Stepper) {
		s.settle = d
	}
}

// WithDispatchTimeout bounds each setpoint dispatch. Zero disables it.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Stepper) {
		s.dispatchTimeout = d
	}
}

// WithSleep replaces the tick sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(s *Stepper) {
		s.sleep = fn
	}
}

// WithClock replaces the wall clock used by hover deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Stepper) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stepper) {
		s.logger = l
	}
}

// New creates a Stepper for the vehicle behind cmd whose believed state is read from state.
func New(cmd link.Commander, state StateReader, opts ...Option) *Stepper {
	s := &Stepper{
		cmd:    cmd,
		state:  state,
		tick:   DefaultTick,
		settle: 2 * time.Second,
		sleep:  Sleep,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick returns the setpoint cadence.
func (s *Stepper) Tick() time.Duration {
	return s.tick
}

// TakeOff ramps from the ground to height over duration, holding the
// horizontal position read at call time.
func (s *Stepper) TakeOff(ctx context.Context, height float64, duration time.Duration, yaw float64) error {
	steps := int(duration / s.tick)
	start := s.state.Read().Position
	s.logger.Debug("take off", "height", height, "steps", steps)

	for i := 1; i <= steps; i++ {
		sp := core.Setpoint{X: start.X, Y: start.Y, Z: height * float64(i) / float64(steps), Yaw: yaw}
		if err := s.step(ctx, sp, i, steps); err != nil {
			return fmt.Errorf("take off: %w", err)
		}
	}
	return nil
}

// Land ramps down from the current height over duration. The ramp stops
// two ticks short of zero.
func (s *Stepper) Land(ctx context.Context, duration time.Duration) error {
	steps := int(duration / s.tick)
	start := s.state.Read().Position
	s.logger.Debug("land", "from", start.Z, "steps", steps)

	for i := steps; i > landFloorSteps; i-- {
		sp := core.Setpoint{X: start.X, Y: start.Y, Z: start.Z * float64(i) / float64(steps)}
		if err := s.step(ctx, sp, steps-i+1, steps-landFloorSteps); err != nil {
			return fmt.Errorf("land: %w", err)
		}
	}
	return nil
}

// MoveToPosition travels in a straight line from the current position to
// target at speed. The first setpoint is the start and the last is one step
// short of target. A target closer than one tick of travel is a no-op.
func (s *Stepper) MoveToPosition(ctx context.Context, target core.Vec3, speed, yaw float64) error {
	if speed <= 0 || math.IsNaN(speed) {
		return fmt.Errorf("move to %v: %w: %v", target, ErrInvalidSpeed, speed)
	}

	start := s.state.Read().Position
	delta := target.Sub(start)
	ticksPerSecond := float64(time.Second) / float64(s.tick)
	steps := int(math.Floor(ticksPerSecond * delta.Norm() / speed))
	s.logger.Debug("move to position", "from", start, "to", target, "speed", speed, "steps", steps)

	for i := 0; i < steps; i++ {
		p := start.Add(delta.Scale(float64(i) / float64(steps)))
		if err := s.step(ctx, core.SetpointAt(p, yaw), i+1, steps); err != nil {
			return fmt.Errorf("move to %v: %w", target, err)
		}
	}
	return nil
}

// Hover holds the position read at call time for duration.
func (s *Stepper) Hover(ctx context.Context, duration time.Duration, yaw float64) error {
	return s.HoverUntil(ctx, s.now().Add(duration), yaw)
}

// HoverUntil holds the position read at call time until deadline. The clock
// is sampled on every iteration.
func (s *Stepper) HoverUntil(ctx context.Context, deadline time.Time, yaw float64) error {
	sp := core.SetpointAt(s.state.Read().Position, yaw)
	s.logger.Debug("hover", "position", sp, "until", deadline)

	for i := 1; deadline.Sub(s.now()) > 0; i++ {
		if err := s.step(ctx, sp, i, 0); err != nil {
			return fmt.Errorf("hover: %w", err)
		}
	}
	return nil
}

// step dispatches one setpoint and sleeps one tick. total is only used in
// error messages; zero means open-ended.
func (s *Stepper) step(ctx context.Context, sp core.Setpoint, i, total int) error {
	if err := s.dispatch(ctx, sp); err != nil {
		if total > 0 {
			return fmt.Errorf("setpoint %d/%d: %w", i, total, err)
		}
		return fmt.Errorf("setpoint %d: %w", i, err)
	}
	return s.sleep(ctx, s.tick)
}

func (s *Stepper) dispatch(ctx context.Context, sp core.Setpoint) error {
	if s.dispatchTimeout <= 0 {
		return s.cmd.SendPositionSetpoint(ctx, sp)
	}

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.cmd.SendPositionSetpoint(dctx, sp)
	}()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: dispatch timed out after %s", link.ErrTransport, s.dispatchTimeout)
	}
}
