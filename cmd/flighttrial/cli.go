package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/internal/analysis"
	"github.com/aerolab/flighttrials/internal/api"
	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/monitor"
	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/internal/swarm"
	"github.com/aerolab/flighttrials/internal/trial"
	"github.com/aerolab/flighttrials/internal/trialfile"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `usage: flighttrial <command> [flags]

commands:
  fly         run preflight and a maneuver on every configured vehicle
  lightcheck  blink the LEDs of every configured vehicle
  battery     print battery voltage of every vehicle
  analyze     summarize the trial logs in a folder
  version     print the version
`

// run dispatches args to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "fly":
		err = flyCommand(ctx, args[1:], out)
	case "lightcheck":
		err = lightCheckCommand(ctx, args[1:], out)
	case "battery":
		err = batteryCommand(ctx, args[1:], out)
	case "analyze":
		err = analyzeCommand(args[1:], out)
	case "version":
		fmt.Fprintf(out, "%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// commonFlags are accepted by every command that touches vehicles.
type commonFlags struct {
	configDir string
	logLevel  string
	sim       bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configDir, "config-dir", ".", "directory containing "+config.FileName)
	fs.StringVar(&c.logLevel, "log-level", "", "override the configured log level")
	fs.BoolVar(&c.sim, "sim", false, "fly simulated vehicles instead of the configured link")
}

type flyFlags struct {
	commonFlags
	maneuver      string
	distance      float64
	velocity      float64
	hSep          float64
	vSep          float64
	trial         int
	startDelay    time.Duration
	hover         time.Duration
	speeds        []float64
	origin        string
	skipPreflight bool
}

func parseFlyFlags(args []string) (*flyFlags, error) {
	f := &flyFlags{}
	fs := pflag.NewFlagSet("fly", pflag.ContinueOnError)
	f.register(fs)
	fs.StringVar(&f.maneuver, "maneuver", core.ManeuverDiagnostic, "square|formation|diagnostic|sweep|forward")
	fs.Float64Var(&f.distance, "distance", 1, "trial distance in meters")
	fs.Float64Var(&f.velocity, "velocity", 0, "trial velocity in m/s (0 uses the maneuver default)")
	fs.Float64Var(&f.hSep, "h-sep", 0, "horizontal separation between leader and follower in meters")
	fs.Float64Var(&f.vSep, "v-sep", 0, "follower height above the default height in meters")
	fs.IntVar(&f.trial, "trial", 0, "trial number written to the log preamble")
	fs.DurationVar(&f.startDelay, "start-delay", 5*time.Second, "delay before the shared formation start")
	fs.DurationVar(&f.hover, "hover", 0, "diagnostic hover duration (0 uses trial.defaultDuration)")
	fs.Float64SliceVar(&f.speeds, "speeds", []float64{0.2, 0.4, 0.6, 0.8, 1.0}, "speeds for the sweep maneuver in m/s")
	fs.StringVar(&f.origin, "origin", "", "lab origin as \"long,lat\" for geodetic export")
	fs.BoolVar(&f.skipPreflight, "skip-preflight", false, "skip the preflight checks")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch f.maneuver {
	case core.ManeuverSquareLap, core.ManeuverLeaderFollower, core.ManeuverDiagnostic,
		core.ManeuverSpeedSweep, core.ManeuverMoveForward:
	default:
		return nil, fmt.Errorf("%w: unknown maneuver %q", trial.ErrConfiguration, f.maneuver)
	}
	return f, nil
}

func (f *flyFlags) params(startAt time.Time) trial.Params {
	return trial.Params{
		Distance:             f.distance,
		Velocity:             f.velocity,
		HorizontalSeparation: f.hSep,
		HeightAboveDefault:   f.vSep,
		Trial:                f.trial,
		StartAt:              startAt,
		Hover:                f.hover,
	}
}

func flyCommand(ctx context.Context, args []string, out io.Writer) error {
	flags, err := parseFlyFlags(args)
	if err != nil {
		return err
	}

	s, err := newSession(flags.configDir, flags.logLevel)
	if err != nil {
		return err
	}
	defer s.Close()

	origin, err := labOrigin(flags.origin)
	if err != nil {
		return err
	}

	backends, err := s.initStorage(origin)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			s.Logger.Error("Error closing storage", "error", err)
		}
	}()

	fl, err := s.openFleet(ctx, flags.sim, backends)
	if err != nil {
		return err
	}
	defer fl.Close()

	// formation roles are checked before anything moves
	roles := make(map[string]trial.Role, len(fl.vehicles))
	if flags.maneuver == core.ManeuverLeaderFollower {
		for _, v := range fl.vehicles {
			r, err := trial.ParseRole(v.cfg.Role)
			if err != nil {
				return fmt.Errorf("%s: %w", v.URI(), err)
			}
			roles[v.URI()] = r
		}
	}

	mon := monitor.NewService(monitor.Dependencies{
		Vehicles:   fl.stateSources(),
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
		DB:         storageDB(backends),
		Logger:     s.Logger.With("component", "monitor"),
	})
	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	if !flags.skipPreflight {
		err := swarm.Each(ctx, fl.vehicles, func(ctx context.Context, v *vehicle) error {
			return v.orch.Preflight(ctx)
		})
		if err != nil {
			s.Logger.Error("Preflight failed, nothing was flown", "error", err)
			return err
		}
	}

	uploader := s.newUploader(ctx)
	startAt := time.Now().Add(flags.startDelay)
	params := flags.params(startAt)

	var (
		mu     sync.Mutex
		trials []*core.Trial
	)
	err = swarm.Run(ctx, fl.vehicles, func(ctx context.Context, v *vehicle) error {
		s.activeVehicles.Add(1)
		defer s.activeVehicles.Add(-1)

		done, err := fly(ctx, v, flags.maneuver, params, roles[v.URI()], flags.speeds)
		for _, t := range done {
			uploader.upload(ctx, t)
		}
		mu.Lock()
		trials = append(trials, done...)
		mu.Unlock()
		if ferr := s.OTelProvider.Flush(context.WithoutCancel(ctx)); ferr != nil {
			s.Logger.Warn("Failed to flush telemetry logs", "error", ferr)
		}
		return err
	})

	for _, t := range trials {
		status := "ok"
		if t.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\trows=%d\tdropped=%d\toverspeeds=%d\t%s\n",
			t.URI, t.Maneuver, t.LogPath, t.Rows, t.Dropped, t.Overspeeds, status)
	}

	if err != nil {
		s.Logger.Error("Flight failed", "error", err)
		return err
	}
	s.Logger.Info("Flight complete", "trials", len(trials))
	return nil
}

// fly runs one maneuver on one vehicle and returns every trial it recorded.
func fly(ctx context.Context, v *vehicle, maneuver string, p trial.Params, role trial.Role, speeds []float64) ([]*core.Trial, error) {
	var (
		t   *core.Trial
		err error
	)
	switch maneuver {
	case core.ManeuverSquareLap:
		t, err = v.orch.SquareLap(ctx, p)
	case core.ManeuverLeaderFollower:
		t, err = v.orch.LeaderFollowerLap(ctx, p, role)
	case core.ManeuverDiagnostic:
		t, err = v.orch.DiagnosticFlight(ctx, p)
	case core.ManeuverSpeedSweep:
		return v.orch.SpeedSweep(ctx, p, speeds)
	case core.ManeuverMoveForward:
		t, err = v.orch.MoveForward(ctx, p)
	default:
		return nil, fmt.Errorf("%w: unknown maneuver %q", trial.ErrConfiguration, maneuver)
	}
	if t == nil {
		return nil, err
	}
	return []*core.Trial{t}, err
}

// uploader sends finished trial logs to the archive server when one is
// configured and reachable.
type uploader struct {
	client *api.Client
	s      *session
}

func (s *session) newUploader(ctx context.Context) *uploader {
	apiCfg := config.GetAPIConfig()
	if apiCfg.ServerURL == "" {
		return &uploader{s: s}
	}
	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		s.Logger.Warn("Archive server unreachable, trials will not be uploaded", "url", apiCfg.ServerURL, "error", err)
		return &uploader{s: s}
	}
	return &uploader{client: client, s: s}
}

func (u *uploader) upload(ctx context.Context, t *core.Trial) {
	if u.client == nil || t.Error != "" || t.LogPath == "" {
		return
	}
	if err := u.client.UploadTrial(context.WithoutCancel(ctx), t.LogPath, t.Metadata, t.Maneuver); err != nil {
		u.s.Logger.Error("Failed to upload trial", "uri", t.URI, "log", t.LogPath, "error", err)
		return
	}
	u.s.Logger.Info("Uploaded trial", "uri", t.URI, "log", t.LogPath)
}

func lightCheckCommand(ctx context.Context, args []string, out io.Writer) error {
	var c commonFlags
	fs := pflag.NewFlagSet("lightcheck", pflag.ContinueOnError)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := newSession(c.configDir, c.logLevel)
	if err != nil {
		return err
	}
	defer s.Close()

	fl, err := s.openFleet(ctx, c.sim, storage.Nop{})
	if err != nil {
		return err
	}
	defer fl.Close()

	err = swarm.Each(ctx, fl.vehicles, func(ctx context.Context, v *vehicle) error {
		if err := v.orch.LightCheck(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\tok\n", v.URI())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", trial.ErrConfiguration, err)
	}
	return nil
}

func batteryCommand(ctx context.Context, args []string, out io.Writer) error {
	var (
		c      commonFlags
		until  float64
		period time.Duration
	)
	fs := pflag.NewFlagSet("battery", pflag.ContinueOnError)
	c.register(fs)
	fs.Float64Var(&until, "until", 0, "exit once every vehicle reports at least this voltage")
	fs.DurationVar(&period, "period", 500*time.Millisecond, "sample period")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := newSession(c.configDir, c.logLevel)
	if err != nil {
		return err
	}
	defer s.Close()

	fl, err := s.openFleet(ctx, c.sim, storage.Nop{})
	if err != nil {
		return err
	}
	defer fl.Close()

	var mu sync.Mutex
	emit := func(uri string, vbat float64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s,%s\n", uri, trialfile.FormatFloat(vbat))
	}

	return swarm.Run(ctx, fl.vehicles, func(ctx context.Context, v *vehicle) error {
		return watchBattery(ctx, v.link, period, until, emit)
	})
}

// watchBattery prints every battery sample until ctx is done or, with a
// positive until, the voltage reaches it.
func watchBattery(ctx context.Context, l link.Link, period time.Duration, until float64, emit func(uri string, vbat float64)) error {
	sub, err := l.Subscribe(ctx, []string{core.ChannelBatteryVoltage}, period)
	if err != nil {
		return err
	}
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sample, ok := <-sub.Samples():
			if !ok {
				return fmt.Errorf("%w: battery feed closed", link.ErrTransport)
			}
			vbat, ok := sample.Data[core.ChannelBatteryVoltage]
			if !ok {
				continue
			}
			emit(l.URI(), vbat)
			if until > 0 && vbat >= until {
				return nil
			}
		}
	}
}

func analyzeCommand(args []string, out io.Writer) error {
	var outPath string
	fs := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	fs.StringVar(&outPath, "out", "summary.csv", "summary table to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one log folder")
	}
	folder := fs.Arg(0)

	summaries, err := analysis.SummarizeFolder(folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "some logs were skipped: %v\n", err)
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no usable trial logs in %s", folder)
	}

	if err := analysis.WriteSummaryFile(outPath, summaries); err != nil {
		return fmt.Errorf("error writing summary: %w", err)
	}
	for _, s := range summaries {
		fmt.Fprintf(out, "%s\tsamples=%d\tdrain=%s V/s\n",
			filepath.Base(s.Path), s.Samples, trialfile.FormatFloat(s.Voltage.Slope))
	}
	fmt.Fprintf(out, "wrote %d summaries to %s\n", len(summaries), outPath)
	return nil
}
