package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/pkg/core"
)

var parkedAt = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func parked() core.LocationRecord {
	expiry := parkedAt.Add(time.Hour)
	return core.LocationRecord{
		ID:             "a",
		Latitude:       40.4,
		Longitude:      -3.7,
		Timestamp:      parkedAt,
		ParkingType:    core.ParkingGarage,
		Cost:           core.Ptr(2.5),
		ExpiryTime:     &expiry,
		ExtensionCount: core.Ptr(2),
	}
}

func line(p *influxdb2_write.Point) string {
	return strings.TrimSpace(influxdb2_write.PointToLineProtocol(p, time.Nanosecond))
}

func TestSessionPoint(t *testing.T) {
	ended := parkedAt.Add(90 * time.Minute)

	got := line(SessionPoint(parked(), ended))

	assert.True(t, strings.HasPrefix(got, "parking_session,manual=false,parking_type=garage "), got)
	assert.Contains(t, got, "duration_s=5400i")
	assert.Contains(t, got, "extensions=2i")
	assert.Contains(t, got, "had_timer=true")
	assert.Contains(t, got, "cost=2.5")
	assert.Contains(t, got, "overstay_s=1800i")
	assert.True(t, strings.HasSuffix(got, " 1782901800000000000"), got)
}

func TestSessionPoint_NoTimerNoCost(t *testing.T) {
	rec := parked()
	rec.ExpiryTime = nil
	rec.ExtensionCount = nil
	rec.Cost = nil

	got := line(SessionPoint(rec, parkedAt.Add(time.Minute)))

	assert.Contains(t, got, "had_timer=false")
	assert.Contains(t, got, "extensions=0i")
	assert.NotContains(t, got, "overstay_s")
	assert.NotContains(t, got, "cost=")
}

func TestSessionPoint_LeftBeforeExpiry(t *testing.T) {
	got := line(SessionPoint(parked(), parkedAt.Add(10*time.Minute)))
	assert.Contains(t, got, "overstay_s=0i")
}

func TestExtensionPoint(t *testing.T) {
	got := line(ExtensionPoint(parked(), 15, parkedAt))

	assert.True(t, strings.HasPrefix(got, "timer_extension,parking_type=garage "), got)
	assert.Contains(t, got, "minutes=15i")
	assert.Contains(t, got, "extension_count=2i")
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	assert.Error(t, m.Connect(context.Background()))
}

func TestConnect_FallsBackToBackupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "backup.lp.gz")
	m := NewManager(zerolog.Nop(), config.InfluxConfig{
		Enabled:    true,
		URL:        "http://127.0.0.1:1",
		Org:        "parkspot",
		Bucket:     "parking_history",
		BackupPath: path,
	})
	m.now = func() time.Time { return parkedAt }

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)

	m.RecordSession(context.Background(), parked(), parkedAt.Add(time.Hour))
	m.RecordExtension(context.Background(), parked(), 30)
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], MeasurementSession))
	assert.True(t, strings.HasPrefix(lines[1], MeasurementExtension))
}

func TestWritePoint_WithoutSink(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	assert.Error(t, m.WritePoint(ExtensionPoint(parked(), 5, parkedAt)))
	assert.NoError(t, m.Close())
}
