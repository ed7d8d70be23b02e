package main

import (
	"context"
	"fmt"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/link/bridge"
	"github.com/aerolab/flighttrials/internal/link/sim"
	"github.com/aerolab/flighttrials/internal/logging"
	"github.com/aerolab/flighttrials/internal/monitor"
	"github.com/aerolab/flighttrials/internal/recorder"
	"github.com/aerolab/flighttrials/internal/state"
	"github.com/aerolab/flighttrials/internal/stepper"
	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/internal/trial"
	"github.com/aerolab/flighttrials/pkg/core"
)

// vehicle is one configured vehicle with its link and control stack.
type vehicle struct {
	cfg   config.VehicleConfig
	link  link.Link
	state *state.Store
	orch  *trial.Orchestrator
}

func (v *vehicle) URI() string {
	return v.cfg.URI
}

// fleet is every configured vehicle plus what must be closed afterwards.
type fleet struct {
	vehicles []*vehicle
	bridge   *bridge.Client
}

func (f *fleet) Close() error {
	if f.bridge == nil {
		return nil
	}
	return f.bridge.Close()
}

// stateSources exposes the fleet's state stores to the monitor.
func (f *fleet) stateSources() map[string]monitor.StateSource {
	out := make(map[string]monitor.StateSource, len(f.vehicles))
	for _, v := range f.vehicles {
		out[v.URI()] = v.state
	}
	return out
}

// openFleet connects every configured vehicle through the configured link
// and builds its control stack on backend. useSim forces simulated links.
func (s *session) openFleet(ctx context.Context, useSim bool, backend storage.Backend) (*fleet, error) {
	vehicleCfgs, err := config.GetVehicles()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", trial.ErrConfiguration, err)
	}
	if len(vehicleCfgs) == 0 {
		return nil, fmt.Errorf("%w: no vehicles configured", trial.ErrConfiguration)
	}

	linkCfg := config.GetLinkConfig()
	trialCfg := config.GetTrialConfig()
	if useSim {
		linkCfg.Type = "sim"
	}

	f := &fleet{}
	switch linkCfg.Type {
	case "sim":
		s.Logger.Info("Using simulated vehicles", "count", len(vehicleCfgs))
	case "bridge":
		s.Logger.Info("Connecting to radio bridge", "url", linkCfg.BridgeURL)
		f.bridge, err = bridge.Dial(ctx, linkCfg.BridgeURL, bridge.Options{
			AckTimeout:      linkCfg.AckTimeout,
			TelemetryBuffer: linkCfg.TelemetryBuffer,
			Logger:          s.Logger.With("component", "bridge"),
			TraceLogger:     logging.NewDispatcherLogger(s.TraceLogger.With().Str("component", "bridge").Logger()),
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown link type %q", trial.ErrConfiguration, linkCfg.Type)
	}

	for _, vc := range vehicleCfgs {
		start := startPosition(vc)

		var l link.Link
		if f.bridge != nil {
			l = f.bridge.Link(vc.URI)
		} else {
			l = sim.New(vc.URI, sim.Config{
				Start:  start,
				Tick:   trialCfg.Tick,
				Decks:  trialCfg.RequiredDecks,
				Buffer: linkCfg.TelemetryBuffer,
			})
		}

		v, err := s.newVehicle(vc, l, start, trialCfg, backend)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.vehicles = append(f.vehicles, v)
	}
	return f, nil
}

func (s *session) newVehicle(vc config.VehicleConfig, l link.Link, start core.Vec3, trialCfg config.TrialConfig, backend storage.Backend) (*vehicle, error) {
	logger := s.Logger.With("uri", vc.URI)

	store := state.New()
	// stepper needs a position before the first sample arrives
	store.Seed(core.VehicleState{Position: start})

	rec, err := recorder.New(l, store, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vc.URI, err)
	}

	st := stepper.New(l, store,
		stepper.WithTick(trialCfg.Tick),
		stepper.WithDispatchTimeout(trialCfg.DispatchTimeout),
		stepper.WithLogger(logger),
	)

	return &vehicle{
		cfg:   vc,
		link:  l,
		state: store,
		orch: trial.New(trial.Dependencies{
			Link:     l,
			State:    store,
			Recorder: rec,
			Stepper:  st,
			Backend:  backend,
			Logger:   s.Logger,
			Config:   trialCfg,
		}),
	}, nil
}

func startPosition(vc config.VehicleConfig) core.Vec3 {
	if len(vc.Start) != 3 {
		return core.Vec3{}
	}
	return core.Vec3{X: vc.Start[0], Y: vc.Start[1], Z: vc.Start[2]}
}
