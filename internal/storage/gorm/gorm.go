// Package gormstorage implements the storage.Backend interface on GORM with an
// internal sample queue and a background DB writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/internal/database"
	"github.com/aerolab/flighttrials/internal/geo"
	"github.com/aerolab/flighttrials/internal/model"
	"github.com/aerolab/flighttrials/internal/model/convert"
	"github.com/aerolab/flighttrials/internal/queue"
	"github.com/aerolab/flighttrials/pkg/core"

	"gorm.io/gorm"
)

// Defaults for the DB writer.
const (
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultBatchSize     = 2000
)

// ErrUnknownTrial is returned for telemetry addressed to a trial this backend never started.
var ErrUnknownTrial = errors.New("unknown trial")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
	BatchSize     int
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	samples *queue.Queue[model.TelemetrySample]

	// flushes are serialized so SQLite never sees concurrent writers
	flushMu sync.Mutex

	mu     sync.Mutex
	tracks map[uint][]core.TelemetryRecord

	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	return &Backend{
		deps:    deps,
		samples: queue.New[model.TelemetrySample](),
		tracks:  make(map[uint][]core.TelemetryRecord),
	}
}

// DB returns the connection the backend writes to.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// Close stops the writer after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		close(b.stopChan)
		<-b.done
	})
	return nil
}

// StartTrial inserts the trial row. A zero trial.ID is assigned by the database.
func (b *Backend) StartTrial(t *core.Trial) error {
	m := convert.TrialToModel(t, geo.Track(nil))
	if err := b.deps.DB.Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert trial: %w", err)
	}
	t.ID = m.ID

	b.mu.Lock()
	b.tracks[t.ID] = nil
	b.mu.Unlock()
	return nil
}

// RecordTelemetry converts and queues a sample for the writer.
func (b *Backend) RecordTelemetry(trialID uint, rec core.TelemetryRecord) error {
	b.mu.Lock()
	track, ok := b.tracks[trialID]
	if ok {
		b.tracks[trialID] = append(track, rec)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTrial, trialID)
	}

	b.samples.Push(convert.RecordToSample(trialID, rec))
	return nil
}

// EndTrial flushes pending samples and writes the trial's results and flown track.
func (b *Backend) EndTrial(t *core.Trial) error {
	flushErr := b.flush()

	b.mu.Lock()
	records := b.tracks[t.ID]
	delete(b.tracks, t.ID)
	b.mu.Unlock()

	m := convert.TrialToModel(t, geo.Track(records))
	err := b.deps.DB.Model(&model.Trial{}).Where("id = ?", t.ID).Updates(map[string]any{
		"ended_at":     m.EndedAt,
		"rows":         m.Rows,
		"dropped":      m.Dropped,
		"overspeeds":   m.Overspeeds,
		"error":        m.Error,
		"track_wkt":    m.TrackWKT,
		"track_length": m.TrackLength,
	}).Error
	if err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to update trial %d: %w", t.ID, err))
	}
	return flushErr
}

// Pending returns the number of queued samples not yet written.
func (b *Backend) Pending() int {
	return b.samples.Len()
}

// flush drains the queue in batches. A failed batch is requeued and ends the flush.
func (b *Backend) flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for {
		items := b.samples.PopN(b.deps.BatchSize)
		if len(items) == 0 {
			return nil
		}
		err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&items).Error
		})
		if err != nil {
			b.deps.Logger.Error("error creating telemetry samples", "count", len(items), "error", err)
			b.samples.Requeue(items...)
			return fmt.Errorf("failed to write telemetry samples: %w", err)
		}
	}
}

// writer periodically drains the queue into the DB until Close.
func (b *Backend) writer() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			_ = b.flush()
			return
		case <-ticker.C:
			_ = b.flush()
		}
	}
}
