package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/internal/model"
	"github.com/aerolab/flighttrials/pkg/core"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultInterval is the status loop period.
const DefaultInterval = time.Second

// StateSource is a vehicle's state store.
type StateSource interface {
	Read() core.VehicleState
	Samples() uint64
	LastUpdate() (time.Time, uint64)
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Vehicles maps URI to state store
	Vehicles   map[string]StateSource
	StatusPath string
	// DB, when set, receives a StatusSnapshot per vehicle per tick
	DB       *gorm.DB
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time
}

// VehicleStatus is one vehicle's line in the status file
type VehicleStatus struct {
	URI              string            `json:"uri"`
	State            core.VehicleState `json:"state"`
	Samples          uint64            `json:"samples"`
	LastUpdate       time.Time         `json:"lastUpdate"`
	VehicleTimestamp uint64            `json:"vehicleTimestamp"`
	// StaleMs is -1 before the first sample
	StaleMs int64 `json:"staleMs"`
}

// Status is the content of status.json
type Status struct {
	Time     time.Time       `json:"time"`
	Vehicles []VehicleStatus `json:"vehicles"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus snapshots every vehicle, sorted by URI
func (s *Service) GetStatus() Status {
	now := s.deps.Now()
	status := Status{Time: now, Vehicles: make([]VehicleStatus, 0, len(s.deps.Vehicles))}

	for uri, src := range s.deps.Vehicles {
		last, ts := src.LastUpdate()
		vs := VehicleStatus{
			URI:              uri,
			State:            src.Read(),
			Samples:          src.Samples(),
			LastUpdate:       last,
			VehicleTimestamp: ts,
			StaleMs:          -1,
		}
		if !last.IsZero() {
			vs.StaleMs = now.Sub(last).Milliseconds()
		}
		status.Vehicles = append(status.Vehicles, vs)
	}
	slices.SortFunc(status.Vehicles, func(a, b VehicleStatus) int {
		if a.URI < b.URI {
			return -1
		}
		if a.URI > b.URI {
			return 1
		}
		return 0
	})
	return status
}

// WriteStatus replaces the status file with status
func (s *Service) WriteStatus(status Status) error {
	raw, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.deps.StatusPath), ".status-*.json")
	if err != nil {
		return fmt.Errorf("error creating status file: %w", err)
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("error writing status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.deps.StatusPath)
}

// SaveSnapshots writes one StatusSnapshot row per vehicle
func (s *Service) SaveSnapshots(status Status) error {
	if s.deps.DB == nil || len(status.Vehicles) == 0 {
		return nil
	}
	rows := make([]model.StatusSnapshot, 0, len(status.Vehicles))
	for _, v := range status.Vehicles {
		raw, err := json.Marshal(v.State)
		if err != nil {
			return err
		}
		rows = append(rows, model.StatusSnapshot{
			Time:    status.Time,
			URI:     v.URI,
			Samples: v.Samples,
			StaleMs: v.StaleMs,
			State:   datatypes.JSON(raw),
		})
	}
	return s.deps.DB.Create(&rows).Error
}

func (s *Service) tick() {
	status := s.GetStatus()
	if s.deps.StatusPath != "" {
		if err := s.WriteStatus(status); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	if err := s.SaveSnapshots(status); err != nil {
		s.deps.Logger.Error("Error writing status snapshot", "error", err)
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(s.done)
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				// last status reflects the final state
				s.tick()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for its final write
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.stopChan = nil
	done := s.done
	s.mu.Unlock()
	<-done
}
