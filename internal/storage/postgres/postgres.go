// Package postgres implements the storage.Backend interface on PostgreSQL by
// embedding the GORM backend.
package postgres

import (
	"context"
	"fmt"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/database"
	"github.com/parkspot/tracker/internal/logging"
	gormstorage "github.com/parkspot/tracker/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	// DB is optional; when nil Init connects using Config.
	DB         *gorm.DB
	Config     config.PostgresConfig
	LogManager *logging.SlogManager
}

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects (unless a DB was injected via Dependencies), validates the
// connection and runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDB(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := database.Ping(db); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
		if b.deps.LogManager != nil {
			b.deps.LogManager.WriteLog("postgres:Init", fmt.Sprintf("Connected to %s:%s/%s", b.deps.Config.Host, b.deps.Config.Port, b.deps.Config.Database), "INFO")
		}
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:         b.deps.DB,
		LogManager: b.deps.LogManager,
	})
	return b.Backend.Init()
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

// Snapshot is not supported; Postgres has its own backup tooling.
func (b *Backend) Snapshot(ctx context.Context) (string, error) {
	return "", fmt.Errorf("postgres: snapshots are not supported, use pg_dump")
}
