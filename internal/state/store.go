// Package state holds the believed state of one vehicle. The telemetry
// recorder is the only writer; the stepper and monitors read snapshots.
package state

import (
	"sync"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// Store holds the last known state of a vehicle.
type Store struct {
	mu         sync.RWMutex
	state      core.VehicleState
	timestamp  uint64
	lastUpdate time.Time
	samples    uint64
}

// New creates a Store with a zeroed state.
func New() *Store {
	return &Store{}
}

// Read returns a copy of the current state. All fields come from the same
// applied record.
func (s *Store) Read() core.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Apply replaces the whole state with the record's fields.
func (s *Store) Apply(rec core.TelemetryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = rec.State
	s.timestamp = rec.Timestamp
	s.lastUpdate = rec.Received
	s.samples++
}

// Seed sets the believed state before any telemetry has arrived, for
// example from a configured start position. It does not count as a sample.
func (s *Store) Seed(st core.VehicleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Samples returns how many records have been applied.
func (s *Store) Samples() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples
}

// LastUpdate returns the receive time and vehicle timestamp of the last
// applied record. The time is zero before the first record.
func (s *Store) LastUpdate() (time.Time, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate, s.timestamp
}
