package trial

import (
	"context"
	"fmt"
	"time"
)

const (
	ledAllOn         = 255
	lightCheckPeriod = time.Second

	estimatorKalman      = 2
	lighthouseBestMethod = 0
	estimatorSwitchPause = 100 * time.Millisecond
)

// Preflight runs every check that must pass before motion. Any failure is
// an ErrConfiguration.
func (o *Orchestrator) Preflight(ctx context.Context) error {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"light check", o.LightCheck},
		{"reset estimator", o.ResetEstimator},
		{"configure estimator", o.ConfigureEstimator},
		{"deck check", o.CheckDecks},
	}
	for _, c := range checks {
		o.logger.Debug("preflight", "check", c.name)
		if err := c.fn(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfiguration, c.name, err)
		}
	}
	o.logger.Info("preflight passed")
	return nil
}

// LightCheck switches every LED on for a second and off again.
func (o *Orchestrator) LightCheck(ctx context.Context) error {
	if err := o.link.SetParam(ctx, "led.bitmask", ledAllOn); err != nil {
		return err
	}
	if err := o.sleep(ctx, lightCheckPeriod); err != nil {
		return err
	}
	return o.link.SetParam(ctx, "led.bitmask", 0)
}

// ResetEstimator restarts the state estimator and waits for it to settle.
func (o *Orchestrator) ResetEstimator(ctx context.Context) error {
	if err := o.link.SetParam(ctx, "kalman.resetEstimation", 1); err != nil {
		return err
	}
	if err := o.link.SetParam(ctx, "kalman.resetEstimation", 0); err != nil {
		return err
	}
	return o.sleep(ctx, o.cfg.EstimatorSettle)
}

// ConfigureEstimator selects the Kalman estimator and the best positioning
// quality.
func (o *Orchestrator) ConfigureEstimator(ctx context.Context) error {
	if err := o.link.SetParam(ctx, "stabilizer.estimator", estimatorKalman); err != nil {
		return err
	}
	if err := o.sleep(ctx, estimatorSwitchPause); err != nil {
		return err
	}
	return o.link.SetParam(ctx, "lighthouse.method", lighthouseBestMethod)
}

// CheckDecks verifies every required expansion deck is attached.
func (o *Orchestrator) CheckDecks(ctx context.Context) error {
	for _, deck := range o.cfg.RequiredDecks {
		v, err := o.link.GetParam(ctx, "deck."+deck)
		if err != nil {
			return fmt.Errorf("deck %s: %w", deck, err)
		}
		if v == 0 {
			return fmt.Errorf("deck %s not attached", deck)
		}
	}
	return nil
}
