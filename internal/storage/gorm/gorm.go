// Package gormstorage implements storage.Backend on top of GORM. The SQLite
// and Postgres backends embed it and only add connection handling.
package gormstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/parkspot/tracker/internal/database"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/model"
	"github.com/parkspot/tracker/internal/model/convert"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps    Dependencies
	dbReady bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}
	if err := database.Setup(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.dbReady = true
	b.log("gorm:Init", "Database setup complete", "INFO")
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	b.dbReady = false
	return sqlDB.Close()
}

func (b *Backend) log(fn, msg, level string) {
	if b.deps.LogManager != nil {
		b.deps.LogManager.WriteLog(fn, msg, level)
	}
}

func (b *Backend) ready() error {
	if !b.dbReady {
		return fmt.Errorf("gorm backend: not initialised")
	}
	return nil
}

func upsert(tx *gorm.DB, row *model.ParkingLocation) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
}

// GetAll returns every record, most-recent-first.
func (b *Backend) GetAll(ctx context.Context) ([]core.LocationRecord, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var rows []model.ParkingLocation
	err := b.deps.DB.WithContext(ctx).
		Order("timestamp desc").
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	out := make([]core.LocationRecord, len(rows))
	for i, row := range rows {
		out[i] = convert.ParkingLocationToCore(row)
	}
	return out, nil
}

func (b *Backend) find(tx *gorm.DB, id string) (model.ParkingLocation, error) {
	var row model.ParkingLocation
	err := tx.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, storage.ErrNotFound
	}
	if err != nil {
		return row, fmt.Errorf("failed to load location %s: %w", id, err)
	}
	return row, nil
}

// Get returns the record with the given id.
func (b *Backend) Get(ctx context.Context, id string) (core.LocationRecord, error) {
	if err := b.ready(); err != nil {
		return core.LocationRecord{}, err
	}
	row, err := b.find(b.deps.DB.WithContext(ctx), id)
	if err != nil {
		return core.LocationRecord{}, err
	}
	return convert.ParkingLocationToCore(row), nil
}

// Save inserts rec or replaces the stored record with the same id.
func (b *Backend) Save(ctx context.Context, rec core.LocationRecord) error {
	if err := b.ready(); err != nil {
		return err
	}
	row := convert.CoreToParkingLocation(rec)
	if err := upsert(b.deps.DB.WithContext(ctx), &row); err != nil {
		return fmt.Errorf("failed to save location %s: %w", rec.ID, err)
	}
	return nil
}

// Update merges patch into the stored record inside a transaction.
func (b *Backend) Update(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error) {
	if err := b.ready(); err != nil {
		return core.LocationRecord{}, err
	}

	var merged core.LocationRecord
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := b.find(tx, id)
		if err != nil {
			return err
		}
		merged = convert.ParkingLocationToCore(row).Apply(patch)
		next := convert.CoreToParkingLocation(merged)
		if err := upsert(tx, &next); err != nil {
			return fmt.Errorf("failed to update location %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return core.LocationRecord{}, err
	}
	return merged, nil
}

// Delete removes the record with the given id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := b.ready(); err != nil {
		return err
	}
	res := b.deps.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.ParkingLocation{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete location %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
