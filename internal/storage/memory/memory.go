// internal/storage/memory/memory.go
package memory

import (
	"fmt"
	"sync"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/internal/geo"
	"github.com/aerolab/flighttrials/pkg/core"
)

// TrialRecord groups a trial with all its telemetry
type TrialRecord struct {
	Trial   core.Trial
	Records []core.TelemetryRecord
}

// Backend stores trial data in memory and exports each ended trial to JSON
type Backend struct {
	cfg    config.MemoryConfig
	origin *geo.Origin

	trials      map[uint]*TrialRecord
	exportPaths map[uint]string

	idCounter uint
	mu        sync.RWMutex
}

// New creates a new memory backend. A non-nil origin adds geodetic
// coordinates to exported samples.
func New(cfg config.MemoryConfig, origin *geo.Origin) *Backend {
	return &Backend{
		cfg:         cfg,
		origin:      origin,
		trials:      make(map[uint]*TrialRecord),
		exportPaths: make(map[uint]string),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartTrial registers a trial, assigning an ID when it has none
func (b *Backend) StartTrial(t *core.Trial) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.ID == 0 {
		b.idCounter++
		t.ID = b.idCounter
	} else if t.ID > b.idCounter {
		b.idCounter = t.ID
	}

	b.trials[t.ID] = &TrialRecord{
		Trial:   *t,
		Records: make([]core.TelemetryRecord, 0),
	}
	return nil
}

// RecordTelemetry appends a record to its trial
func (b *Backend) RecordTelemetry(trialID uint, rec core.TelemetryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.trials[trialID]
	if !ok {
		return fmt.Errorf("unknown trial %d", trialID)
	}
	record.Records = append(record.Records, rec)
	return nil
}

// EndTrial stores the trial's final results and exports it
func (b *Backend) EndTrial(t *core.Trial) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.trials[t.ID]
	if !ok {
		return fmt.Errorf("unknown trial %d", t.ID)
	}
	record.Trial = *t

	if b.cfg.OutputDir == "" {
		return nil
	}
	path, err := b.exportJSON(record)
	if err != nil {
		return err
	}
	b.exportPaths[t.ID] = path
	return nil
}

// ExportedFilePath returns the path of a trial's export, or "" if none was written
func (b *Backend) ExportedFilePath(trialID uint) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exportPaths[trialID]
}

// Trial returns a copy of a stored trial and its records
func (b *Backend) Trial(trialID uint) (TrialRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.trials[trialID]
	if !ok {
		return TrialRecord{}, false
	}
	out := TrialRecord{Trial: record.Trial, Records: make([]core.TelemetryRecord, len(record.Records))}
	copy(out.Records, record.Records)
	return out, true
}
