// Package influx streams telemetry and trial summaries to InfluxDB. While
// the server is unreachable, points are appended to a gzip line-protocol
// file that can be replayed with `influx write` later.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/internal/config"
	"github.com/aerolab/flighttrials/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	BucketTelemetry = "flight_telemetry"
	BucketTrials    = "flight_trials"

	retention = 90 * 24 * time.Hour
)

var (
	ErrDisabled      = errors.New("influx.enabled is false")
	ErrNotConnected  = errors.New("influx manager not connected")
	ErrUnknownBucket = errors.New("influx bucket not registered")
)

var buckets = []string{BucketTelemetry, BucketTrials}

// Manager owns the InfluxDB client, one async write API per bucket and the
// backup file.
type Manager struct {
	cfg config.InfluxConfig
	log zerolog.Logger

	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI

	mu         sync.Mutex
	backupFile *os.File
	backup     *gzip.Writer
}

func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Online reports whether points go to the server rather than the backup.
func (m *Manager) Online() bool {
	return m.writers != nil
}

// Connect pings the server and prepares the org and buckets. An
// unreachable server is not an error; the backup file is opened instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(m.cfg.URL(), m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(2500).SetFlushInterval(1000))

	if ok, err := m.client.Ping(ctx); err != nil || !ok {
		m.log.Warn().Err(err).Str("url", m.cfg.URL()).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing line protocol backup")
		return m.openBackup()
	}

	org, err := m.ensureOrg(ctx)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		if err := m.ensureBucket(ctx, org, b); err != nil {
			return err
		}
	}

	m.writers = make(map[string]influxdb2_api.WriteAPI, len(buckets))
	for _, b := range buckets {
		w := m.client.WriteAPI(m.cfg.Org, b)
		go m.logWriteErrors(b, w.Errors())
		m.writers[b] = w
	}
	m.log.Info().Str("url", m.cfg.URL()).Msg("InfluxDB connected")
	return nil
}

func (m *Manager) ensureOrg(ctx context.Context) (*domain.Organization, error) {
	orgs := m.client.OrganizationsAPI()
	if org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org); err == nil {
		return org, nil
	}
	m.log.Info().Str("org", m.cfg.Org).Msg("Creating InfluxDB organization")
	org, err := orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
	if err != nil {
		return nil, fmt.Errorf("creating influx org %s: %w", m.cfg.Org, err)
	}
	return org, nil
}

func (m *Manager) ensureBucket(ctx context.Context, org *domain.Organization, name string) error {
	api := m.client.BucketsAPI()
	if _, err := api.FindBucketByName(ctx, name); err == nil {
		return nil
	}
	m.log.Info().Str("bucket", name).Msg("Creating InfluxDB bucket")
	expire := domain.RetentionRuleTypeExpire
	_, err := api.CreateBucketWithName(ctx, org, name, domain.RetentionRule{
		Type:         &expire,
		EverySeconds: int64(retention / time.Second),
	})
	if err != nil {
		return fmt.Errorf("creating influx bucket %s: %w", name, err)
	}
	return nil
}

func (m *Manager) logWriteErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.log.Error().Err(err).Str("bucket", bucket).Msg("InfluxDB write failed")
	}
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		return nil
	}
	f, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening influx backup: %w", err)
	}
	m.backupFile, m.backup = f, gzip.NewWriter(f)
	return nil
}

// WritePoint queues point for bucket, or appends it to the backup file
// while offline.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.Online() {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return ErrNotConnected
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing influx backup: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil
	}
	err := errors.Join(m.backup.Close(), m.backupFile.Close())
	m.backup, m.backupFile = nil, nil
	return err
}

// TelemetryPoint is one telemetry row, timestamped with the host receive
// time. The vehicle clock is kept as a field.
func TelemetryPoint(trialID uint, rec core.TelemetryRecord) *influxdb2_write.Point {
	s := rec.State
	return influxdb2_write.NewPoint("telemetry",
		map[string]string{
			"uri":   rec.URI,
			"trial": strconv.FormatUint(uint64(trialID), 10),
		},
		map[string]any{
			"vehicle_ts":    rec.Timestamp,
			"x":             s.Position.X,
			"y":             s.Position.Y,
			"z":             s.Position.Z,
			"vx":            s.Velocity.X,
			"vy":            s.Velocity.Y,
			"vz":            s.Velocity.Z,
			"vbat":          s.BatteryVoltage,
			"battery_level": s.BatteryPercent,
		},
		rec.Received)
}

// TrialPoint summarizes an ended trial.
func TrialPoint(t *core.Trial) *influxdb2_write.Point {
	fields := map[string]any{
		"trial_id":   t.ID,
		"trial":      t.Metadata.Trial,
		"distance":   t.Metadata.Distance,
		"velocity":   t.Metadata.Velocity,
		"rows":       t.Rows,
		"dropped":    t.Dropped,
		"overspeeds": t.Overspeeds,
		"duration_s": t.Duration().Seconds(),
		"failed":     t.Error != "",
	}
	if t.Error != "" {
		fields["error"] = t.Error
	}
	return influxdb2_write.NewPoint("trial",
		map[string]string{"uri": t.URI, "maneuver": t.Maneuver},
		fields, t.StartedAt)
}
