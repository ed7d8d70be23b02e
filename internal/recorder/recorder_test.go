package recorder

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
	"github.com/aerolab/flighttrials/internal/trialfile"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURI = "radio://0/80/2M/E7E7E7E7E7"

// fakeTelemetry hands out a subscription the test feeds by hand.
type fakeTelemetry struct {
	sub      *fakeSub
	channels []string
	period   time.Duration
	err      error
}

func (f *fakeTelemetry) Subscribe(_ context.Context, channels []string, period time.Duration) (link.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channels = channels
	f.period = period
	f.sub = &fakeSub{ch: make(chan core.Sample, 128)}
	return f.sub, nil
}

type fakeSub struct {
	ch      chan core.Sample
	once    sync.Once
	stopped int
}

func (s *fakeSub) Samples() <-chan core.Sample { return s.ch }

func (s *fakeSub) Stop() {
	s.stopped++
	s.once.Do(func() { close(s.ch) })
}

func sample(ts uint64, vx float64) core.Sample {
	return core.Sample{
		URI:       testURI,
		Timestamp: ts,
		Data: map[string]float64{
			core.ChannelX:              float64(ts) / 1000,
			core.ChannelY:              0.5,
			core.ChannelZ:              1.5,
			core.ChannelVX:             vx,
			core.ChannelVY:             0,
			core.ChannelVZ:             0,
			core.ChannelBatteryVoltage: 4.1,
			core.ChannelBatteryLevel:   90,
		},
	}
}

func newLog(t *testing.T) string {
	t.Helper()
	path, err := trialfile.Create(t.TempDir(), core.TrialMetadata{
		Start:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Distance: 2, Velocity: 0.5, Trial: 1,
	})
	require.NoError(t, err)
	return path
}

func TestRecording_WritesEverySampleInOrder(t *testing.T) {
	tel := &fakeTelemetry{}
	store := state.New()
	r, err := New(tel, store, nil)
	require.NoError(t, err)

	path := newLog(t)
	rec, err := r.Attach(context.Background(), testURI, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, core.TrialChannels, tel.channels)
	assert.Equal(t, DefaultPeriod, tel.period)

	for i := 1; i <= 25; i++ {
		tel.sub.ch <- sample(uint64(i*100), 0.1)
	}
	require.NoError(t, rec.Stop())

	assert.Equal(t, 25, rec.Rows())
	assert.Equal(t, 0, rec.Dropped())

	log, err := trialfile.Read(path)
	require.NoError(t, err)
	require.Len(t, log.Records, 25)
	for i, r := range log.Records {
		assert.Equal(t, uint64((i+1)*100), r.Timestamp)
	}

	st := store.Read()
	assert.Equal(t, 2.5, st.Position.X)
	assert.Equal(t, uint64(25), store.Samples())
	_, ts := store.LastUpdate()
	assert.Equal(t, uint64(2500), ts)
}

func TestRecording_OverspeedWarnsButRecords(t *testing.T) {
	tel := &fakeTelemetry{}
	r, err := New(tel, state.New(), nil)
	require.NoError(t, err)

	rec, err := r.Attach(context.Background(), testURI, newLog(t), Options{ExpectedSpeed: 0.5})
	require.NoError(t, err)

	tel.sub.ch <- sample(100, 0.5)
	tel.sub.ch <- sample(200, 0.6) // 1.2x expected
	tel.sub.ch <- sample(300, 0.54)
	require.NoError(t, rec.Stop())

	assert.Equal(t, 1, rec.Overspeeds())
	assert.Equal(t, 3, rec.Rows())
}

func TestRecording_NoExpectedSpeedNeverWarns(t *testing.T) {
	tel := &fakeTelemetry{}
	r, err := New(tel, state.New(), nil)
	require.NoError(t, err)

	rec, err := r.Attach(context.Background(), testURI, newLog(t), Options{})
	require.NoError(t, err)
	tel.sub.ch <- sample(100, 50)
	require.NoError(t, rec.Stop())

	assert.Equal(t, 0, rec.Overspeeds())
}

func TestRecording_DropsMalformedSamples(t *testing.T) {
	tel := &fakeTelemetry{}
	store := state.New()
	r, err := New(tel, store, nil)
	require.NoError(t, err)

	rec, err := r.Attach(context.Background(), testURI, newLog(t), Options{})
	require.NoError(t, err)

	missing := sample(200, 0.1)
	delete(missing.Data, core.ChannelBatteryVoltage)
	nan := sample(300, 0.1)
	nan.Data[core.ChannelZ] = math.NaN()

	tel.sub.ch <- sample(100, 0.1)
	tel.sub.ch <- missing
	tel.sub.ch <- nan
	tel.sub.ch <- sample(400, 0.1)
	require.NoError(t, rec.Stop())

	assert.Equal(t, 2, rec.Rows())
	assert.Equal(t, 2, rec.Dropped())
	assert.Equal(t, uint64(2), store.Samples())
	assert.Equal(t, 0.4, store.Read().Position.X)
}

func TestRecording_StopIsIdempotent(t *testing.T) {
	tel := &fakeTelemetry{}
	r, err := New(tel, state.New(), nil)
	require.NoError(t, err)

	path := newLog(t)
	rec, err := r.Attach(context.Background(), testURI, path, Options{})
	require.NoError(t, err)

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())
	assert.Equal(t, 1, tel.sub.stopped)
	assert.Equal(t, path, rec.Path())
}

func TestRecording_SinksReceiveRecords(t *testing.T) {
	tel := &fakeTelemetry{}
	r, err := New(tel, state.New(), nil)
	require.NoError(t, err)

	var got []uint64
	failing := SinkFunc(func(core.TelemetryRecord) error { return errors.New("backend down") })
	collect := SinkFunc(func(tr core.TelemetryRecord) error {
		got = append(got, tr.Timestamp)
		return nil
	})

	rec, err := r.Attach(context.Background(), testURI, newLog(t), Options{Sinks: []Sink{failing, collect}})
	require.NoError(t, err)
	tel.sub.ch <- sample(100, 0)
	tel.sub.ch <- sample(200, 0)
	require.NoError(t, rec.Stop())

	assert.Equal(t, []uint64{100, 200}, got)
	assert.Equal(t, 2, rec.Rows())
}

func TestAttach_Errors(t *testing.T) {
	t.Run("missing log", func(t *testing.T) {
		r, err := New(&fakeTelemetry{}, state.New(), nil)
		require.NoError(t, err)
		_, err = r.Attach(context.Background(), testURI, "/nonexistent/log.csv", Options{})
		assert.Error(t, err)
	})

	t.Run("subscribe fails", func(t *testing.T) {
		r, err := New(&fakeTelemetry{err: link.ErrTransport}, state.New(), nil)
		require.NoError(t, err)
		_, err = r.Attach(context.Background(), testURI, newLog(t), Options{})
		assert.ErrorIs(t, err, link.ErrTransport)
	})

	t.Run("channel subset", func(t *testing.T) {
		r, err := New(&fakeTelemetry{}, state.New(), nil)
		require.NoError(t, err)
		_, err = r.Attach(context.Background(), testURI, newLog(t), Options{Channels: []string{core.ChannelX}})
		assert.Error(t, err)
	})
}

func TestRecording_WithSimulatedLink(t *testing.T) {
	l := sim.New(testURI, sim.Config{Start: core.Vec3{X: 1, Y: 2}})
	store := state.New()
	r, err := New(l, store, nil)
	require.NoError(t, err)

	rec, err := r.Attach(context.Background(), testURI, newLog(t), Options{Period: time.Hour})
	require.NoError(t, err)

	require.NoError(t, l.SendPositionSetpoint(context.Background(), core.Setpoint{X: 1, Y: 2, Z: 0.3}))
	l.Emit()

	require.Eventually(t, func() bool { return store.Samples() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop())

	assert.Equal(t, core.Vec3{X: 1, Y: 2, Z: 0.3}, store.Read().Position)
	assert.Equal(t, 1, rec.Rows())
}
