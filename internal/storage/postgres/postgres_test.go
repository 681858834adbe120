package postgres

import (
	"os"
	"testing"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/database"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestNew(t *testing.T) {
	b := New(Dependencies{})
	require.NotNil(t, b)
	assert.NoError(t, b.Close(), "closing an uninitialised backend is a no-op")
}

func TestInit_WithInjectedDB(t *testing.T) {
	db, err := database.GetSqliteDB("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, LogManager: logging.NewSlogManager()})
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
}

func TestInit_ConnectionRefused(t *testing.T) {
	b := New(Dependencies{Config: config.PostgresConfig{
		Host:     "127.0.0.1",
		Port:     "1",
		Username: "nobody",
		Password: "nothing",
		Database: "none",
	}})
	assert.Error(t, b.Init())
}

// Runs against a real server when PARKD_TEST_POSTGRES_HOST is set.
func TestBackendContract_Postgres(t *testing.T) {
	host := os.Getenv("PARKD_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("PARKD_TEST_POSTGRES_HOST not set")
	}
	cfg := config.PostgresConfig{
		Host:     host,
		Port:     envOr("PARKD_TEST_POSTGRES_PORT", "5432"),
		Username: envOr("PARKD_TEST_POSTGRES_USER", "postgres"),
		Password: envOr("PARKD_TEST_POSTGRES_PASSWORD", "postgres"),
		Database: envOr("PARKD_TEST_POSTGRES_DB", "parkspot_test"),
	}

	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b := New(Dependencies{Config: cfg})
		require.NoError(t, b.Init())
		require.NoError(t, b.DB().Exec("DELETE FROM parking_locations").Error)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
