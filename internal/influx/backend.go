package influx

import (
	"context"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// Backend exposes a Manager as a storage backend. It does not assign trial
// IDs, so it is placed after a backend that does.
type Backend struct {
	manager *Manager
}

// NewBackend wraps a manager.
func NewBackend(m *Manager) *Backend {
	return &Backend{manager: m}
}

// Init connects the manager.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.manager.Connect(ctx)
}

// Close flushes and closes the manager.
func (b *Backend) Close() error {
	return b.manager.Close()
}

// StartTrial is a no-op; trials are written once, when they end.
func (b *Backend) StartTrial(*core.Trial) error {
	return nil
}

// EndTrial writes the trial summary.
func (b *Backend) EndTrial(t *core.Trial) error {
	return b.manager.WritePoint(BucketTrials, TrialPoint(t))
}

// RecordTelemetry writes one telemetry point.
func (b *Backend) RecordTelemetry(trialID uint, rec core.TelemetryRecord) error {
	return b.manager.WritePoint(BucketTelemetry, TelemetryPoint(trialID, rec))
}
