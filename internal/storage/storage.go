// internal/storage/storage.go
package storage

import (
	"errors"
	"fmt"

	"github.com/aerolab/flighttrials/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Trial management. StartTrial assigns trial.ID when it is zero.
	StartTrial(trial *core.Trial) error
	EndTrial(trial *core.Trial) error

	// State recording
	RecordTelemetry(trialID uint, rec core.TelemetryRecord) error
}

// Exporter is an optional interface for storage backends that write a file
// per trial.
type Exporter interface {
	ExportedFilePath(trialID uint) string
}

// Sink feeds one trial's records into a backend. It satisfies the
// recorder's sink interface.
type Sink struct {
	backend Backend
	trialID uint
}

// NewSink binds a backend to a trial.
func NewSink(b Backend, trialID uint) *Sink {
	return &Sink{backend: b, trialID: trialID}
}

// Record stores one record under the bound trial.
func (s *Sink) Record(rec core.TelemetryRecord) error {
	return s.backend.RecordTelemetry(s.trialID, rec)
}

// Multi fans every call out to several backends. The first backend assigns
// trial IDs; later ones see the assigned ID.
type Multi []Backend

func (m Multi) Init() error {
	var errs []error
	for _, b := range m {
		if err := b.Init(); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, b := range m {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) StartTrial(trial *core.Trial) error {
	var errs []error
	for _, b := range m {
		if err := b.StartTrial(trial); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) EndTrial(trial *core.Trial) error {
	var errs []error
	for _, b := range m {
		if err := b.EndTrial(trial); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordTelemetry(trialID uint, rec core.TelemetryRecord) error {
	var errs []error
	for _, b := range m {
		if err := b.RecordTelemetry(trialID, rec); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything. It is used when storage is disabled.
type Nop struct{}

func (Nop) Init() error                                      { return nil }
func (Nop) Close() error                                     { return nil }
func (Nop) StartTrial(*core.Trial) error                     { return nil }
func (Nop) EndTrial(*core.Trial) error                       { return nil }
func (Nop) RecordTelemetry(uint, core.TelemetryRecord) error { return nil }
