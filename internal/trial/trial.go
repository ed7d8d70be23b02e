// Package trial sequences stepper primitives into named maneuvers. Every
// maneuver is one trial: one log file and one recording for its duration.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/recorder"
	"github.com/aerolab/flighttrials/internal/stepper"
	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/internal/trialfile"
	"github.com/aerolab/flighttrials/pkg/core"
)

// ErrConfiguration marks a preflight or required-hardware failure. No
// motion is commanded after it.
var ErrConfiguration = errors.New("configuration error")

// Dependencies wires an Orchestrator to one vehicle.
type Dependencies struct {
	Link     link.Link
	State    stepper.StateReader
	Recorder *recorder.Recorder
	Stepper  *stepper.Stepper
	Backend  storage.Backend
	Logger   *slog.Logger
	Config   config.TrialConfig

	// Sleep and Now default to the wall clock.
	Sleep stepper.SleepFunc
	Now   func() time.Time
}

// Orchestrator runs maneuvers for one vehicle, strictly one at a time.
type Orchestrator struct {
	link     link.Link
	state    stepper.StateReader
	recorder *recorder.Recorder
	stepper  *stepper.Stepper
	backend  storage.Backend
	logger   *slog.Logger
	cfg      config.TrialConfig
	sleep    stepper.SleepFunc
	now      func() time.Time
}

// New creates an Orchestrator.
func New(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		link:     deps.Link,
		state:    deps.State,
		recorder: deps.Recorder,
		stepper:  deps.Stepper,
		backend:  deps.Backend,
		logger:   deps.Logger,
		cfg:      deps.Config,
		sleep:    deps.Sleep,
		now:      deps.Now,
	}
	if o.backend == nil {
		o.backend = storage.Nop{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("uri", deps.Link.URI())
	if o.sleep == nil {
		o.sleep = stepper.Sleep
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// URI returns the vehicle address.
func (o *Orchestrator) URI() string {
	return o.link.URI()
}

// frame describes one recorded maneuver.
type frame struct {
	maneuver      string
	params        Params
	expectedSpeed float64
	// run issues the maneuver's motion while the recorder is attached.
	run func(ctx context.Context) error
	// land is attempted after a failed run.
	land func(ctx context.Context) error
}

// record runs one maneuver inside its trial frame: create the log, register
// the trial, attach the recorder, fly, stop the recorder, finish the trial.
func (o *Orchestrator) record(ctx context.Context, f frame) (*core.Trial, error) {
	meta := f.params.metadata(o.now())
	path, err := trialfile.Create(o.cfg.LogFolder, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.maneuver, err)
	}

	t := &core.Trial{
		URI:       o.link.URI(),
		Maneuver:  f.maneuver,
		LogPath:   path,
		Metadata:  meta,
		StartedAt: o.now(),
	}
	if err := o.backend.StartTrial(t); err != nil {
		o.logger.Error("failed to register trial", "maneuver", f.maneuver, "error", err)
	}
	logger := o.logger.With("maneuver", f.maneuver, "trial", t.ID, "log", path)
	logger.Info("trial started", "velocity", meta.Velocity, "distance", meta.Distance)

	rec, err := o.recorder.Attach(ctx, t.URI, path, recorder.Options{
		ExpectedSpeed:      f.expectedSpeed,
		OverspeedThreshold: o.cfg.OverspeedThreshold,
		Period:             o.cfg.TelemetryPeriod,
		Sinks:              []recorder.Sink{storage.NewSink(o.backend, t.ID)},
	})
	if err != nil {
		o.finish(t, err, logger)
		return t, fmt.Errorf("%s: %w", f.maneuver, err)
	}

	runErr := f.run(ctx)
	if runErr != nil {
		logger.Error("maneuver failed, landing", "error", runErr)
		if landErr := o.emergencyLand(ctx, f.land); landErr != nil {
			runErr = errors.Join(runErr, fmt.Errorf("landing after failure: %w", landErr))
		}
	}

	stopErr := rec.Stop()
	t.Rows = rec.Rows()
	t.Dropped = rec.Dropped()
	t.Overspeeds = rec.Overspeeds()

	err = errors.Join(runErr, stopErr)
	o.finish(t, err, logger)
	if err != nil {
		return t, fmt.Errorf("%s: %w", f.maneuver, err)
	}
	return t, nil
}

func (o *Orchestrator) finish(t *core.Trial, err error, logger *slog.Logger) {
	t.EndedAt = o.now()
	if err != nil {
		t.Error = err.Error()
	}
	if endErr := o.backend.EndTrial(t); endErr != nil {
		logger.Error("failed to finish trial in storage", "error", endErr)
	}
	logger.Info("trial finished",
		"duration", t.Duration(),
		"rows", t.Rows,
		"dropped", t.Dropped,
		"overspeeds", t.Overspeeds,
		"ok", err == nil)
}

// emergencyLand runs the landing on a context that survives cancellation
// of ctx but is bounded by the land timeout.
func (o *Orchestrator) emergencyLand(ctx context.Context, land func(context.Context) error) error {
	if land == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LandTimeout)
	defer cancel()
	return land(lctx)
}

func (o *Orchestrator) setpointLand(ctx context.Context) error {
	return o.stepper.Land(ctx, o.cfg.DefaultDuration)
}

func (o *Orchestrator) highLevelLand(ctx context.Context) error {
	return o.stepper.HighLevelLand(ctx, o.cfg.DefaultDuration)
}
