package sim

import (
	"context"
	"testing"
	"time"

	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "radio://0/80/2M/E7E7E7E7E7"

func TestLink_SetpointMovesAndDerivesVelocity(t *testing.T) {
	l := New(testURI, Config{Start: core.Vec3{X: 1}})
	ctx := context.Background()

	require.NoError(t, l.SendPositionSetpoint(ctx, core.Setpoint{X: 1.02, Y: 0, Z: 0.5}))

	st := l.State()
	assert.Equal(t, core.Vec3{X: 1.02, Y: 0, Z: 0.5}, st.Position)
	assert.InDelta(t, 0.2, st.Velocity.X, 1e-9)
	assert.InDelta(t, 5.0, st.Velocity.Z, 1e-9)
	assert.Less(t, st.BatteryVoltage, fullVoltage)
	assert.Len(t, l.Setpoints(), 1)
}

func TestLink_HighLevelCommands(t *testing.T) {
	l := New(testURI, Config{})
	ctx := context.Background()

	require.NoError(t, l.TakeOff(ctx, 1.0, 2*time.Second))
	assert.Equal(t, 1.0, l.State().Position.Z)

	require.NoError(t, l.GoTo(ctx, core.Setpoint{X: 0.5}, time.Second, true))
	require.NoError(t, l.GoTo(ctx, core.Setpoint{X: 0.5}, time.Second, true))
	assert.InDelta(t, 1.0, l.State().Position.X, 1e-9)

	require.NoError(t, l.Land(ctx, 0, 2*time.Second))
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 0.0, l.State().Position.Z)
	assert.Equal(t, core.Vec3{}, l.State().Velocity)

	kinds := []CommandKind{}
	for _, c := range l.Commands() {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []CommandKind{CommandTakeOff, CommandGoTo, CommandGoTo, CommandLand, CommandStop}, kinds)
}

func TestLink_FailAfter(t *testing.T) {
	l := New(testURI, Config{})
	ctx := context.Background()
	l.FailAfter(2)

	require.NoError(t, l.SendPositionSetpoint(ctx, core.Setpoint{}))
	require.NoError(t, l.SendPositionSetpoint(ctx, core.Setpoint{}))
	err := l.SendPositionSetpoint(ctx, core.Setpoint{})
	assert.ErrorIs(t, err, link.ErrTransport)
	assert.Len(t, l.Setpoints(), 2)

	l.FailAfter(-1)
	assert.NoError(t, l.SendPositionSetpoint(ctx, core.Setpoint{}))
}

func TestLink_DelayHonoursContext(t *testing.T) {
	l := New(testURI, Config{})
	l.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.SendPositionSetpoint(ctx, core.Setpoint{})
	assert.ErrorIs(t, err, link.ErrTransport)
	assert.Empty(t, l.Setpoints())
}

func TestLink_Params(t *testing.T) {
	l := New(testURI, Config{Decks: []string{"bcLighthouse4"}})
	ctx := context.Background()

	v, err := l.GetParam(ctx, "deck.bcLighthouse4")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = l.GetParam(ctx, "deck.bcFlow2")
	assert.Error(t, err)

	require.NoError(t, l.SetParam(ctx, "led.bitmask", 255))
	v, err = l.GetParam(ctx, "led.bitmask")
	require.NoError(t, err)
	assert.Equal(t, 255.0, v)
}

func TestLink_EmitDeliversRequestedChannels(t *testing.T) {
	l := New(testURI, Config{Start: core.Vec3{X: 0.3, Y: 0.4, Z: 0}})

	sub, err := l.Subscribe(context.Background(), []string{core.ChannelX, core.ChannelBatteryVoltage}, 0)
	require.NoError(t, err)
	defer sub.Stop()

	l.Emit()

	select {
	case s := <-sub.Samples():
		assert.Equal(t, testURI, s.URI)
		assert.Equal(t, map[string]float64{
			core.ChannelX:              0.3,
			core.ChannelBatteryVoltage: fullVoltage,
		}, s.Data)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
}

func TestLink_TickerPublishesUntilStop(t *testing.T) {
	l := New(testURI, Config{})

	sub, err := l.Subscribe(context.Background(), core.TrialChannels, 5*time.Millisecond)
	require.NoError(t, err)

	var got int
	timeout := time.After(2 * time.Second)
	for got < 3 {
		select {
		case s := <-sub.Samples():
			_, err := s.Record(time.Now())
			require.NoError(t, err)
			got++
		case <-timeout:
			t.Fatalf("only %d samples before timeout", got)
		}
	}

	sub.Stop()
	sub.Stop()

	// drain whatever was buffered; the channel must then be closed
	for range sub.Samples() {
	}
	l.Emit()
}

func TestLink_SubscribeRequiresChannels(t *testing.T) {
	l := New(testURI, Config{})
	_, err := l.Subscribe(context.Background(), nil, time.Second)
	assert.Error(t, err)
}
