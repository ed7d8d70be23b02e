// Package dispatcher routes decoded bridge frames to handlers by frame type.
// A route either runs its handler on the caller's goroutine or queues the
// frame for a dedicated consumer goroutine.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aerolab/flighttrials/internal/dispatcher"

var (
	ErrClosed      = errors.New("dispatcher closed")
	ErrUnknownType = errors.New("no handler for frame type")
	ErrQueueFull   = errors.New("frame queue full")
)

// Event is one frame received from a vehicle link. ID correlates an ack
// with its request and is zero for unsolicited frames.
type Event struct {
	Type     string
	ID       uint64
	URI      string
	Payload  json.RawMessage
	Received time.Time
}

type HandlerFunc func(Event) error

// Logger is satisfied by logging.DispatcherLogger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type Option func(*route)

// Buffered queues up to size frames for the route's consumer goroutine.
// Frames of one type are handled in arrival order.
func Buffered(size int) Option {
	return func(r *route) { r.size = size }
}

// Blocking makes Dispatch wait for queue space instead of dropping.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged logs every frame of the route at debug level, and failures at
// error level.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

type route struct {
	frameType string
	handle    HandlerFunc
	attrs     metric.MeasurementOption

	size     int
	blocking bool
	logged   bool
	queue    chan Event
}

type Dispatcher struct {
	logger Logger

	mu     sync.RWMutex
	routes map[string]*route
	closed bool
	wg     sync.WaitGroup

	handled metric.Int64Counter
	dropped metric.Int64Counter
}

// New uses the global OTel meter, a no-op unless one is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{logger: logger, routes: make(map[string]*route)}

	m := otel.Meter(instrumentationName)
	var err error
	if d.handled, err = m.Int64Counter("bridge.frames.handled",
		metric.WithDescription("Frames passed to a handler")); err != nil {
		return nil, fmt.Errorf("frames handled counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("bridge.frames.dropped",
		metric.WithDescription("Frames dropped on a full queue")); err != nil {
		return nil, fmt.Errorf("frames dropped counter: %w", err)
	}
	depth, err := m.Int64ObservableGauge("bridge.frames.queued",
		metric.WithDescription("Frames waiting in a route queue"))
	if err != nil {
		return nil, fmt.Errorf("queue depth gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, r := range d.routes {
			if r.queue != nil {
				o.ObserveInt64(depth, int64(len(r.queue)), r.attrs)
			}
		}
		return nil
	}, depth); err != nil {
		return nil, fmt.Errorf("queue depth callback: %w", err)
	}
	return d, nil
}

// Register sets the handler for frameType, replacing any earlier one.
// Routes must be registered before the first Dispatch.
func (d *Dispatcher) Register(frameType string, h HandlerFunc, opts ...Option) {
	r := &route{
		frameType: frameType,
		handle:    h,
		attrs:     metric.WithAttributes(attribute.String("type", frameType)),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.size > 0 {
		r.queue = make(chan Event, r.size)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range r.queue {
				d.run(r, e)
			}
		}()
	}

	d.mu.Lock()
	d.routes[frameType] = r
	d.mu.Unlock()
}

// Dispatch hands e to its route. For a queued route the handler's error is
// only logged; Dispatch reports whether the frame was accepted.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	r, ok := d.routes[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if r.queue == nil {
		return d.run(r, e)
	}

	if r.blocking {
		r.queue <- e
		return nil
	}
	select {
	case r.queue <- e:
		return nil
	default:
		d.dropped.Add(context.Background(), 1, r.attrs)
		return fmt.Errorf("%w: %s", ErrQueueFull, e.Type)
	}
}

func (d *Dispatcher) run(r *route, e Event) error {
	start := time.Now()
	if r.logged {
		d.logger.Debug("handling frame", "type", r.frameType, "id", e.ID, "uri", e.URI, "bytes", len(e.Payload))
	}

	err := r.handle(e)
	d.handled.Add(context.Background(), 1, r.attrs)

	if r.logged {
		if err != nil {
			d.logger.Error("frame failed", "type", r.frameType, "uri", e.URI, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("frame handled", "type", r.frameType, "duration", time.Since(start))
		}
	}
	return err
}

// Close rejects further frames and waits until every queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.routes {
		if r.queue != nil {
			close(r.queue)
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
}
