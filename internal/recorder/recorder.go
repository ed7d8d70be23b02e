// Package recorder drains a vehicle's telemetry feed into its trial log and
// state store. One recording owns one log file writer.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/trialfile"
	"github.com/aerolab/flighttrials/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aerolab/flighttrials/internal/recorder"

const (
	DefaultPeriod             = 100 * time.Millisecond
	DefaultOverspeedThreshold = 0.1
)

// Applier receives every validated record. The state store implements it.
type Applier interface {
	Apply(rec core.TelemetryRecord)
}

// Sink receives every validated record after the state is applied.
type Sink interface {
	Record(rec core.TelemetryRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec core.TelemetryRecord) error

func (f SinkFunc) Record(rec core.TelemetryRecord) error {
	return f(rec)
}

// Options configures one recording.
type Options struct {
	// ExpectedSpeed enables the overspeed check when positive.
	ExpectedSpeed      float64
	OverspeedThreshold float64
	Period             time.Duration
	// Channels must include every trial channel.
	Channels []string
	Sinks    []Sink
}

func (o *Options) applyDefaults() {
	if o.OverspeedThreshold <= 0 {
		o.OverspeedThreshold = DefaultOverspeedThreshold
	}
	if o.Period <= 0 {
		o.Period = DefaultPeriod
	}
	if len(o.Channels) == 0 {
		o.Channels = core.TrialChannels
	}
}

// Recorder attaches recordings for one vehicle.
type Recorder struct {
	telemetry link.Telemetry
	store     Applier
	logger    *slog.Logger
	now       func() time.Time

	recorded   metric.Int64Counter
	dropped    metric.Int64Counter
	overspeeds metric.Int64Counter
}

// New creates a Recorder. Metrics go to the global OTel meter.
func New(telemetry link.Telemetry, store Applier, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		telemetry: telemetry,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}

	m := otel.Meter(instrumentationName)

	var err error
	r.recorded, err = m.Int64Counter(
		"recorder.samples.recorded",
		metric.WithDescription("Telemetry samples applied to vehicle state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recorded counter: %w", err)
	}

	r.dropped, err = m.Int64Counter(
		"recorder.samples.dropped",
		metric.WithDescription("Telemetry samples dropped as malformed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	r.overspeeds, err = m.Int64Counter(
		"recorder.overspeed.warnings",
		metric.WithDescription("Samples faster than the expected maneuver speed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating overspeed counter: %w", err)
	}

	return r, nil
}

// Attach opens logPath for append, subscribes to telemetry and starts
// draining it. The log file must already exist with its preamble.
func (r *Recorder) Attach(ctx context.Context, uri, logPath string, opts Options) (*Recording, error) {
	opts.applyDefaults()
	for _, ch := range core.TrialChannels {
		if !slices.Contains(opts.Channels, ch) {
			return nil, fmt.Errorf("recording %s: channel %s not subscribed", uri, ch)
		}
	}

	w, err := trialfile.OpenAppend(logPath)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", uri, err)
	}

	sub, err := r.telemetry.Subscribe(ctx, opts.Channels, opts.Period)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("recording %s: subscribe: %w", uri, err)
	}

	rec := &Recording{
		r:      r,
		uri:    uri,
		opts:   opts,
		sub:    sub,
		writer: w,
		logger: r.logger.With("uri", uri, "log", logPath),
		attrs:  metric.WithAttributes(attribute.String("uri", uri)),
		done:   make(chan struct{}),
	}
	go rec.drain()

	rec.logger.Debug("recording attached", "period", opts.Period, "expectedSpeed", opts.ExpectedSpeed)
	return rec, nil
}

// Recording is one attached telemetry feed.
type Recording struct {
	r      *Recorder
	uri    string
	opts   Options
	sub    link.Subscription
	writer *trialfile.Writer
	logger *slog.Logger
	attrs  metric.MeasurementOption

	rows       atomic.Int64
	dropped    atomic.Int64
	overspeeds atomic.Int64
	writeFails atomic.Int64

	done    chan struct{}
	once    sync.Once
	stopErr error
}

func (rec *Recording) drain() {
	defer close(rec.done)
	for s := range rec.sub.Samples() {
		rec.handle(s)
	}
}

func (rec *Recording) handle(s core.Sample) {
	ctx := context.Background()

	tr, err := s.Record(rec.r.now())
	if err != nil {
		rec.dropped.Add(1)
		rec.r.dropped.Add(ctx, 1, rec.attrs)
		rec.logger.Warn("dropping malformed sample", "timestamp", s.Timestamp, "error", err)
		return
	}
	if tr.URI == "" {
		tr.URI = rec.uri
	}

	if rec.opts.ExpectedSpeed > 0 && tr.State.Velocity.X >= rec.opts.ExpectedSpeed*(1+rec.opts.OverspeedThreshold) {
		rec.overspeeds.Add(1)
		rec.r.overspeeds.Add(ctx, 1, rec.attrs)
		rec.logger.Warn("data integrity warning: vehicle faster than expected",
			"vx", tr.State.Velocity.X,
			"expected", rec.opts.ExpectedSpeed,
			"threshold", rec.opts.OverspeedThreshold,
			"timestamp", tr.Timestamp)
	}

	if err := rec.writer.WriteRow(tr); err != nil {
		rec.writeFails.Add(1)
		rec.logger.Error("failed to write log row", "timestamp", tr.Timestamp, "error", err)
	} else {
		rec.rows.Add(1)
	}

	rec.r.store.Apply(tr)
	rec.r.recorded.Add(ctx, 1, rec.attrs)

	for _, sink := range rec.opts.Sinks {
		if err := sink.Record(tr); err != nil {
			rec.logger.Error("telemetry sink failed", "timestamp", tr.Timestamp, "error", err)
		}
	}
}

// Stop ends the subscription, waits for the drain to finish and closes the
// log file. Later calls return the first call's result.
func (rec *Recording) Stop() error {
	rec.once.Do(func() {
		rec.sub.Stop()
		<-rec.done
		rec.stopErr = rec.writer.Close()
		rec.logger.Debug("recording stopped",
			"rows", rec.rows.Load(),
			"dropped", rec.dropped.Load(),
			"overspeeds", rec.overspeeds.Load())
	})
	return rec.stopErr
}

// Path returns the log file path.
func (rec *Recording) Path() string {
	return rec.writer.Path()
}

// Rows returns how many rows were written to the log.
func (rec *Recording) Rows() int {
	return int(rec.rows.Load())
}

// Dropped returns how many malformed samples were discarded.
func (rec *Recording) Dropped() int {
	return int(rec.dropped.Load())
}

// Overspeeds returns how many samples raised an overspeed warning.
func (rec *Recording) Overspeeds() int {
	return int(rec.overspeeds.Load())
}

// WriteFailures returns how many rows failed to reach the log.
func (rec *Recording) WriteFailures() int {
	return int(rec.writeFails.Load())
}
