// Package sim is a kinematic stand-in for a real vehicle link. The vehicle
// jumps to each commanded setpoint, velocity is derived from the jump over
// one tick and the battery drains linearly with commanded flight time.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/pkg/core"
)

const (
	fullVoltage  = 4.2
	emptyVoltage = 3.0
)

// Config holds the simulated vehicle's initial conditions.
type Config struct {
	Start          core.Vec3
	Tick           time.Duration // setpoint cadence used to derive velocity
	DrainPerSecond float64       // volts per second of commanded flight
	Buffer         int           // telemetry channel size per subscription
	Decks          []string      // decks reported present through deck.<name>
}

// CommandKind names a recorded command.
type CommandKind string

const (
	CommandSetpoint CommandKind = "setpoint"
	CommandTakeOff  CommandKind = "takeoff"
	CommandLand     CommandKind = "land"
	CommandGoTo     CommandKind = "goto"
	CommandStop     CommandKind = "stop"
	CommandParam    CommandKind = "param"
)

// Command is one command received by the simulated vehicle.
type Command struct {
	Kind     CommandKind
	Setpoint core.Setpoint
	Duration time.Duration
	Relative bool
	Param    string
	Value    float64
}

// Link simulates one vehicle.
type Link struct {
	uri string
	cfg Config

	mu        sync.Mutex
	pos       core.Vec3
	vel       core.Vec3
	voltage   float64
	commands  []Command
	params    map[string]float64
	failAfter int
	delay     time.Duration
	started   time.Time
	subs      map[*subscription]struct{}
}

var _ link.Link = (*Link)(nil)

// New creates a simulated vehicle at cfg.Start with a full battery.
func New(uri string, cfg Config) *Link {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.DrainPerSecond == 0 {
		cfg.DrainPerSecond = 0.002
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}

	params := map[string]float64{
		"led.bitmask":            0,
		"kalman.resetEstimation": 0,
		"stabilizer.estimator":   1,
		"lighthouse.method":      1,
	}
	for _, d := range cfg.Decks {
		params["deck."+d] = 1
	}

	return &Link{
		uri:       uri,
		cfg:       cfg,
		pos:       cfg.Start,
		voltage:   fullVoltage,
		params:    params,
		failAfter: -1,
		started:   time.Now(),
		subs:      make(map[*subscription]struct{}),
	}
}

// URI returns the vehicle address.
func (l *Link) URI() string {
	return l.uri
}

// FailAfter makes every command after the next n successful ones fail with
// a transport error. A negative n clears the fault.
func (l *Link) FailAfter(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAfter = n
}

// SetDelay makes each command take d before it is applied, or fail if the
// context ends first.
func (l *Link) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// Commands returns a copy of every command received so far.
func (l *Link) Commands() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Command, len(l.commands))
	copy(out, l.commands)
	return out
}

// Setpoints returns the position setpoints received so far.
func (l *Link) Setpoints() []core.Setpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.Setpoint
	for _, c := range l.commands {
		if c.Kind == CommandSetpoint {
			out = append(out, c.Setpoint)
		}
	}
	return out
}

// State returns the simulated vehicle's true state.
func (l *Link) State() core.VehicleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Link) stateLocked() core.VehicleState {
	pct := (l.voltage - emptyVoltage) / (fullVoltage - emptyVoltage) * 100
	if pct < 0 {
		pct = 0
	}
	return core.VehicleState{
		Position:       l.pos,
		Velocity:       l.vel,
		BatteryVoltage: l.voltage,
		BatteryPercent: pct,
	}
}

// apply runs fn under the lock once the delay and fault checks pass.
func (l *Link) apply(ctx context.Context, cmd Command, fn func()) error {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", link.ErrTransport, cmd.Kind, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", link.ErrTransport, cmd.Kind, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAfter == 0 {
		return fmt.Errorf("%w: %s: injected fault", link.ErrTransport, cmd.Kind)
	}
	if l.failAfter > 0 {
		l.failAfter--
	}
	l.commands = append(l.commands, cmd)
	if fn != nil {
		fn()
	}
	return nil
}

func (l *Link) moveTo(target core.Vec3, over time.Duration) {
	if over <= 0 {
		over = l.cfg.Tick
	}
	l.vel = target.Sub(l.pos).Scale(1 / over.Seconds())
	l.pos = target
	l.voltage -= l.cfg.DrainPerSecond * over.Seconds()
}

// SendPositionSetpoint moves the vehicle to sp over one tick.
func (l *Link) SendPositionSetpoint(ctx context.Context, sp core.Setpoint) error {
	return l.apply(ctx, Command{Kind: CommandSetpoint, Setpoint: sp}, func() {
		l.moveTo(sp.Position(), l.cfg.Tick)
	})
}

// TakeOff climbs to height at the current horizontal position.
func (l *Link) TakeOff(ctx context.Context, height float64, duration time.Duration) error {
	return l.apply(ctx, Command{Kind: CommandTakeOff, Setpoint: core.Setpoint{Z: height}, Duration: duration}, func() {
		l.moveTo(core.Vec3{X: l.pos.X, Y: l.pos.Y, Z: height}, duration)
	})
}

// Land descends to height at the current horizontal position.
func (l *Link) Land(ctx context.Context, height float64, duration time.Duration) error {
	return l.apply(ctx, Command{Kind: CommandLand, Setpoint: core.Setpoint{Z: height}, Duration: duration}, func() {
		l.moveTo(core.Vec3{X: l.pos.X, Y: l.pos.Y, Z: height}, duration)
	})
}

// GoTo moves to sp, or by sp when relative is set.
func (l *Link) GoTo(ctx context.Context, sp core.Setpoint, duration time.Duration, relative bool) error {
	return l.apply(ctx, Command{Kind: CommandGoTo, Setpoint: sp, Duration: duration, Relative: relative}, func() {
		target := sp.Position()
		if relative {
			target = l.pos.Add(target)
		}
		l.moveTo(target, duration)
	})
}

// Stop halts the high-level commander.
func (l *Link) Stop(ctx context.Context) error {
	return l.apply(ctx, Command{Kind: CommandStop}, func() {
		l.vel = core.Vec3{}
	})
}

// SetParam stores a parameter value.
func (l *Link) SetParam(ctx context.Context, name string, value float64) error {
	return l.apply(ctx, Command{Kind: CommandParam, Param: name, Value: value}, func() {
		l.params[name] = value
	})
}

// GetParam returns a stored parameter. Unknown names are an error.
func (l *Link) GetParam(ctx context.Context, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: param %s: %w", link.ErrTransport, name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.params[name]
	if !ok {
		return 0, fmt.Errorf("unknown parameter %q", name)
	}
	return v, nil
}

// Subscribe starts a telemetry feed. With a positive period samples are
// published on a ticker; Emit publishes one on demand either way.
func (l *Link) Subscribe(ctx context.Context, channels []string, period time.Duration) (link.Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no telemetry channels requested")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: subscribe: %w", link.ErrTransport, err)
	}

	s := &subscription{
		link:     l,
		channels: append([]string(nil), channels...),
		samples:  make(chan core.Sample, l.cfg.Buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()

	go s.run(period)
	return s, nil
}

// Emit publishes one sample of the current state to every subscription.
func (l *Link) Emit() {
	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.publish()
	}
}

func (l *Link) sample(channels []string) core.Sample {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked()
	all := map[string]float64{
		core.ChannelX:              st.Position.X,
		core.ChannelY:              st.Position.Y,
		core.ChannelZ:              st.Position.Z,
		core.ChannelVX:             st.Velocity.X,
		core.ChannelVY:             st.Velocity.Y,
		core.ChannelVZ:             st.Velocity.Z,
		core.ChannelBatteryVoltage: st.BatteryVoltage,
		core.ChannelBatteryLevel:   st.BatteryPercent,
	}
	data := make(map[string]float64, len(channels))
	for _, ch := range channels {
		if v, ok := all[ch]; ok {
			data[ch] = v
		}
	}
	return core.Sample{
		URI:       l.uri,
		Timestamp: uint64(time.Since(l.started).Milliseconds()),
		Data:      data,
	}
}

type subscription struct {
	link     *Link
	channels []string
	samples  chan core.Sample

	mu      sync.Mutex
	stopped bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

func (s *subscription) Samples() <-chan core.Sample {
	return s.samples
}

func (s *subscription) run(period time.Duration) {
	defer close(s.done)
	if period <= 0 {
		<-s.stop
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

// publish never blocks: a slow consumer loses samples, not the link.
func (s *subscription) publish() {
	sample := s.link.sample(s.channels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.samples <- sample:
	default:
	}
}

func (s *subscription) Stop() {
	s.once.Do(func() {
		s.link.mu.Lock()
		delete(s.link.subs, s)
		s.link.mu.Unlock()

		close(s.stop)
		<-s.done

		s.mu.Lock()
		s.stopped = true
		close(s.samples)
		s.mu.Unlock()
	})
}
