// internal/storage/storage_test.go
package storage_test

import (
	"errors"
	"testing"

	"github.com/aerolab/flighttrials/internal/storage"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	nextID  uint
	started []uint
	ended   []uint
	records map[uint]int
	failRec bool
}

func (b *countingBackend) Init() error  { b.records = map[uint]int{}; return nil }
func (b *countingBackend) Close() error { return nil }

func (b *countingBackend) StartTrial(t *core.Trial) error {
	if t.ID == 0 {
		b.nextID++
		t.ID = b.nextID
	}
	b.started = append(b.started, t.ID)
	return nil
}

func (b *countingBackend) EndTrial(t *core.Trial) error {
	b.ended = append(b.ended, t.ID)
	return nil
}

func (b *countingBackend) RecordTelemetry(id uint, _ core.TelemetryRecord) error {
	if b.failRec {
		return errors.New("write failed")
	}
	b.records[id]++
	return nil
}

func TestMulti_FansOut(t *testing.T) {
	a := &countingBackend{nextID: 41}
	b := &countingBackend{}
	m := storage.Multi{a, b}
	require.NoError(t, m.Init())

	trial := &core.Trial{URI: "radio://0/80/2M/E7"}
	require.NoError(t, m.StartTrial(trial))
	assert.Equal(t, uint(42), trial.ID)
	assert.Equal(t, []uint{42}, b.started)

	sink := storage.NewSink(m, trial.ID)
	require.NoError(t, sink.Record(core.TelemetryRecord{Timestamp: 1}))
	require.NoError(t, sink.Record(core.TelemetryRecord{Timestamp: 2}))
	assert.Equal(t, 2, a.records[42])
	assert.Equal(t, 2, b.records[42])

	require.NoError(t, m.EndTrial(trial))
	assert.Equal(t, []uint{42}, a.ended)
	require.NoError(t, m.Close())
}

func TestMulti_JoinsErrorsAndContinues(t *testing.T) {
	a := &countingBackend{failRec: true}
	b := &countingBackend{}
	m := storage.Multi{a, b}
	require.NoError(t, m.Init())

	err := m.RecordTelemetry(1, core.TelemetryRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write failed")
	assert.Equal(t, 1, b.records[1])
}

func TestNop(t *testing.T) {
	var b storage.Backend = storage.Nop{}
	assert.NoError(t, b.Init())
	assert.NoError(t, b.StartTrial(&core.Trial{}))
	assert.NoError(t, b.RecordTelemetry(0, core.TelemetryRecord{}))
	assert.NoError(t, b.EndTrial(&core.Trial{}))
	assert.NoError(t, b.Close())
}
