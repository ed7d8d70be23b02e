package stepper

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/link/sim"
	"github.com/aerolab/flighttrials/internal/state"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the stepper sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func newTestStepper(t *testing.T, start core.Vec3, opts ...Option) (*Stepper, *sim.Link, *fakeClock) {
	t.Helper()
	l := sim.New("radio://0/80/2M/E7E7E7E7E7", sim.Config{Start: start})
	store := state.New()
	store.Seed(core.VehicleState{Position: start})
	clock := newFakeClock()

	opts = append([]Option{WithSleep(clock.Sleep), WithClock(clock.Now)}, opts...)
	return New(l, store, opts...), l, clock
}

func TestMoveToPosition_StepCountAndInterpolation(t *testing.T) {
	tests := []struct {
		name   string
		start  core.Vec3
		target core.Vec3
		speed  float64
	}{
		{"square edge", core.Vec3{X: -1.5, Y: -1, Z: 1.5}, core.Vec3{X: 1.5, Y: -1, Z: 1.5}, 0.2},
		{"short hop", core.Vec3{Z: 1}, core.Vec3{X: 0.25, Z: 1}, 0.5},
		{"diagonal climb", core.Vec3{}, core.Vec3{X: 1, Y: 1, Z: 1}, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, l, clock := newTestStepper(t, tt.start)

			require.NoError(t, s.MoveToPosition(context.Background(), tt.target, tt.speed, 0))

			delta := tt.target.Sub(tt.start)
			wantSteps := int(math.Floor(10 * delta.Norm() / tt.speed))
			sps := l.Setpoints()
			require.Len(t, sps, wantSteps)
			assert.Len(t, clock.slept, wantSteps)

			assert.Equal(t, core.SetpointAt(tt.start, 0), sps[0])
			for i, sp := range sps {
				want := tt.start.Add(delta.Scale(float64(i) / float64(wantSteps)))
				assert.InDelta(t, want.X, sp.X, 1e-9, "step %d", i)
				assert.InDelta(t, want.Y, sp.Y, 1e-9, "step %d", i)
				assert.InDelta(t, want.Z, sp.Z, 1e-9, "step %d", i)
			}
			for _, d := range clock.slept {
				assert.Equal(t, DefaultTick, d)
			}
		})
	}
}

func TestMoveToPosition_ShortDistanceIsNoop(t *testing.T) {
	s, l, clock := newTestStepper(t, core.Vec3{Z: 1})

	require.NoError(t, s.MoveToPosition(context.Background(), core.Vec3{X: 0.01, Z: 1}, 0.2, 0))

	assert.Empty(t, l.Setpoints())
	assert.Empty(t, clock.slept)
}

func TestMoveToPosition_InvalidSpeed(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{})

	for _, speed := range []float64{0, -0.2, math.NaN()} {
		err := s.MoveToPosition(context.Background(), core.Vec3{X: 1}, speed, 0)
		assert.ErrorIs(t, err, ErrInvalidSpeed)
	}
	assert.Empty(t, l.Setpoints())
}

func TestTakeOff_RampsToHeight(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{X: 0.4, Y: -0.2})

	require.NoError(t, s.TakeOff(context.Background(), 1.5, 3*time.Second, 0))

	sps := l.Setpoints()
	require.Len(t, sps, 30)
	for i, sp := range sps {
		assert.InDelta(t, 1.5*float64(i+1)/30, sp.Z, 1e-9)
		assert.Equal(t, 0.4, sp.X)
		assert.Equal(t, -0.2, sp.Y)
	}
	assert.InDelta(t, 1.5, sps[len(sps)-1].Z, 1e-9)
}

func TestTakeOff_ZeroDuration(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{})

	require.NoError(t, s.TakeOff(context.Background(), 1.5, 50*time.Millisecond, 0))
	assert.Empty(t, l.Setpoints())
}

func TestLand_StopsTwoTicksShort(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{X: 1, Y: 1, Z: 1.5})

	require.NoError(t, s.Land(context.Background(), 3*time.Second))

	sps := l.Setpoints()
	require.Len(t, sps, 28)
	assert.InDelta(t, 1.5, sps[0].Z, 1e-9)
	last := sps[len(sps)-1]
	assert.InDelta(t, 1.5*3/30, last.Z, 1e-9)
	for i := 1; i < len(sps); i++ {
		assert.Less(t, sps[i].Z, sps[i-1].Z)
		assert.GreaterOrEqual(t, sps[i].Z, 1.5*2/30)
		assert.Equal(t, 0.0, sps[i].Yaw)
	}
}

func TestHover_HoldsPosition(t *testing.T) {
	start := core.Vec3{X: 1.5, Y: 1, Z: 1.5}
	s, l, _ := newTestStepper(t, start)

	require.NoError(t, s.Hover(context.Background(), 2*time.Second, 0))

	sps := l.Setpoints()
	assert.Len(t, sps, 20)
	for _, sp := range sps {
		assert.Equal(t, core.SetpointAt(start, 0), sp)
	}
}

func TestHoverUntil_PastDeadline(t *testing.T) {
	s, l, clock := newTestStepper(t, core.Vec3{Z: 1})

	require.NoError(t, s.HoverUntil(context.Background(), clock.Now().Add(-time.Second), 0))
	assert.Empty(t, l.Setpoints())
}

func TestStep_DispatchErrorStopsManeuver(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{})
	l.FailAfter(5)

	err := s.TakeOff(context.Background(), 1.0, 2*time.Second, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, link.ErrTransport)
	assert.Contains(t, err.Error(), "setpoint 6/20")
	assert.Len(t, l.Setpoints(), 5)
}

func TestStep_ContextCancelled(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Hover(ctx, time.Second, 0)
	require.Error(t, err)
	assert.LessOrEqual(t, len(l.Setpoints()), 1)
}

func TestDispatchTimeout(t *testing.T) {
	s, l, _ := newTestStepper(t, core.Vec3{}, WithDispatchTimeout(20*time.Millisecond))
	l.SetDelay(time.Second)

	start := time.Now()
	err := s.MoveToPosition(context.Background(), core.Vec3{X: 1}, 0.5, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, link.ErrTransport)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// stuckCommander never returns from a setpoint and ignores its context.
type stuckCommander struct {
	link.Commander
	release chan struct{}
}

func (c *stuckCommander) SendPositionSetpoint(context.Context, core.Setpoint) error {
	<-c.release
	return nil
}

func TestDispatchTimeout_IgnoredContext(t *testing.T) {
	cmd := &stuckCommander{release: make(chan struct{})}
	defer close(cmd.release)

	s := New(cmd, state.New(), WithDispatchTimeout(10*time.Millisecond))
	err := s.Hover(context.Background(), time.Second, 0)
	assert.True(t, errors.Is(err, link.ErrTransport))
}

func TestWithTick(t *testing.T) {
	s, l, clock := newTestStepper(t, core.Vec3{}, WithTick(50*time.Millisecond))

	require.NoError(t, s.TakeOff(context.Background(), 1.0, time.Second, 0))
	assert.Len(t, l.Setpoints(), 20)
	assert.Equal(t, 50*time.Millisecond, clock.slept[0])

	require.NoError(t, s.MoveToPosition(context.Background(), core.Vec3{X: 1}, 1.0, 0))
	assert.Len(t, l.Setpoints(), 40)
}
