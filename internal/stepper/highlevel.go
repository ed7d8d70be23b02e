package stepper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// HighLevelTakeOff lets the vehicle's onboard planner climb to height, then
// levels it with a zero relative move.
func (s *Stepper) HighLevelTakeOff(ctx context.Context, height float64, duration time.Duration) error {
	if err := s.cmd.TakeOff(ctx, height, duration); err != nil {
		return fmt.Errorf("high-level take off: %w", err)
	}
	if err := s.sleep(ctx, duration+s.settle); err != nil {
		return err
	}
	if err := s.cmd.GoTo(ctx, core.Setpoint{}, time.Second, true); err != nil {
		return fmt.Errorf("high-level take off: level: %w", err)
	}
	return s.sleep(ctx, time.Second)
}

// HighLevelLand lands with the onboard planner and stops it.
func (s *Stepper) HighLevelLand(ctx context.Context, duration time.Duration) error {
	if err := s.cmd.Land(ctx, 0, duration); err != nil {
		return fmt.Errorf("high-level land: %w", err)
	}
	if err := s.sleep(ctx, duration+s.settle); err != nil {
		return err
	}
	if err := s.cmd.Stop(ctx); err != nil {
		return fmt.Errorf("high-level land: stop: %w", err)
	}
	return nil
}

// GoToRelative moves by delta at speed using the onboard planner.
func (s *Stepper) GoToRelative(ctx context.Context, delta core.Vec3, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("go to relative %v: %w: %v", delta, ErrInvalidSpeed, speed)
	}
	dist := delta.Norm()
	if dist == 0 {
		return nil
	}

	duration := time.Duration(math.Round(dist / speed * float64(time.Second)))
	if err := s.cmd.GoTo(ctx, core.SetpointAt(delta, 0), duration, true); err != nil {
		return fmt.Errorf("go to relative %v: %w", delta, err)
	}
	return s.sleep(ctx, duration+s.settle)
}
