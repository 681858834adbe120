// Package influx keeps long-term parking history in InfluxDB. When the
// server cannot be reached, points are appended to a gzip line-protocol
// file that can be replayed later with the influx CLI.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/pkg/core"
)

// Measurement names.
const (
	MeasurementSession   = "parking_session"
	MeasurementExtension = "timer_extension"
)

// retention for the history bucket
const retentionSeconds = 60 * 60 * 24 * 365

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger

	cfg        config.InfluxConfig
	now        func() time.Time
	mu         sync.Mutex
	backupFile *os.File
	done       chan struct{}
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{
		Logger: log,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file when the server does not answer.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(5000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Info().Str("backupPath", m.cfg.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		m.Client.Close()
		m.Client = nil
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.IsValid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	if dir := filepath.Dir(m.cfg.BackupPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating backup directory: %w", err)
		}
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

	rule := domain.RetentionRuleTypeExpire
	_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
		return err
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	m.done = make(chan struct{})

	errorsCh := m.Writer.Errors()
	go func() {
		defer close(m.done)
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(lineProtocol, "\n") {
		lineProtocol += "\n"
	}
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// RecordSession stores one finished parking session.
func (m *Manager) RecordSession(_ context.Context, rec core.LocationRecord, ended time.Time) {
	if err := m.WritePoint(SessionPoint(rec, ended)); err != nil {
		m.Logger.Error().Err(err).Str("id", rec.ID).Msg("Failed to record parking session")
	}
}

// RecordExtension stores one timer extension.
func (m *Manager) RecordExtension(_ context.Context, rec core.LocationRecord, minutes int) {
	if err := m.WritePoint(ExtensionPoint(rec, minutes, m.now())); err != nil {
		m.Logger.Error().Err(err).Str("id", rec.ID).Msg("Failed to record timer extension")
	}
}

// Close flushes pending writes and releases the client or backup file.
func (m *Manager) Close() error {
	if m.Client != nil {
		if m.Writer != nil {
			m.Writer.Flush()
		}
		m.Client.Close()
		if m.done != nil {
			<-m.done
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	err := errors.Join(m.BackupWriter.Close(), m.backupFile.Close())
	m.BackupWriter = nil
	m.backupFile = nil
	return err
}

// SessionPoint describes a parking session that ended at ended. Overstay
// is the time spent parked past the expiry, zero when there was none.
func SessionPoint(rec core.LocationRecord, ended time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementSession).
		AddTag("manual", strconv.FormatBool(rec.IsManualPlacement)).
		AddTag("parking_type", string(rec.ParkingType)).
		AddField("duration_s", int64(ended.Sub(rec.Timestamp)/time.Second)).
		AddField("extensions", rec.Extensions()).
		AddField("had_timer", rec.HasTimer()).
		SetTime(ended)

	if rec.Cost != nil {
		p.AddField("cost", *rec.Cost)
	}
	if rec.HasTimer() {
		overstay := ended.Sub(*rec.ExpiryTime)
		if overstay < 0 {
			overstay = 0
		}
		p.AddField("overstay_s", int64(overstay/time.Second))
	}
	return p
}

// ExtensionPoint describes a timer pushed back by minutes at the given time.
func ExtensionPoint(rec core.LocationRecord, minutes int, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementExtension).
		AddTag("parking_type", string(rec.ParkingType)).
		AddField("minutes", minutes).
		AddField("extension_count", rec.Extensions()).
		SetTime(at)
}
