// Package sqlitestorage implements the storage.Backend interface on SQLite.
// It wraps the GORM backend via composition. With an empty path the database
// lives in memory and is periodically dumped to disk via VACUUM INTO.
package sqlitestorage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/database"
	"github.com/parkspot/tracker/internal/logging"
	gormstorage "github.com/parkspot/tracker/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *logging.SlogManager
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dumpMu   sync.Mutex
}

// New creates a new SQLite storage backend.
func New(cfg config.SQLiteConfig, logManager *logging.SlogManager) (*Backend, error) {
	db, err := database.GetSqliteDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:         db,
		LogManager: logManager,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		log:      logManager,
		stopChan: make(chan struct{}),
	}, nil
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == ""
}

// Init initializes the embedded GORM backend, restores the last dump for an
// in-memory database and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" {
		if err := b.restore(); err != nil {
			return err
		}
		if b.cfg.DumpInterval > 0 {
			b.wg.Add(1)
			go b.dumpLoop()
		}
	}

	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the embedded GORM backend.
func (b *Backend) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()
		if b.inMemory() && b.cfg.DumpPath != "" {
			if dumpErr := b.dump(); dumpErr != nil {
				b.writeLog("sqlite:Close", fmt.Sprintf("Final dump failed: %v", dumpErr), "ERROR")
			}
		}
		err = b.Backend.Close()
	})
	return err
}

// Snapshot returns a consistent on-disk copy of the database.
func (b *Backend) Snapshot(ctx context.Context) (string, error) {
	if !b.inMemory() {
		return b.cfg.Path, nil
	}
	if b.cfg.DumpPath == "" {
		return "", fmt.Errorf("sqlite: no dump path configured")
	}
	if err := b.dump(); err != nil {
		return "", err
	}
	return b.cfg.DumpPath, nil
}

func (b *Backend) dump() error {
	b.dumpMu.Lock()
	defer b.dumpMu.Unlock()
	return database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
}

// restore copies the rows of a previous dump into the in-memory database.
func (b *Backend) restore() error {
	disk, err := database.GetSqliteDB(b.cfg.DumpPath)
	if err != nil {
		return fmt.Errorf("failed to open dump %s: %w", b.cfg.DumpPath, err)
	}
	defer func() {
		if sqlDB, err := disk.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	src := gormstorage.New(gormstorage.Dependencies{DB: disk})
	if err := src.Init(); err != nil {
		return fmt.Errorf("failed to read dump %s: %w", b.cfg.DumpPath, err)
	}
	records, err := src.GetAll(context.Background())
	if err != nil {
		return err
	}
	// oldest first so created_at preserves tie order
	for i := len(records) - 1; i >= 0; i-- {
		if err := b.Save(context.Background(), records[i]); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		b.writeLog("sqlite:restore", fmt.Sprintf("Restored %d locations from %s", len(records), b.cfg.DumpPath), "INFO")
	}
	return nil
}

func (b *Backend) writeLog(fn, msg, level string) {
	if b.log != nil {
		b.log.WriteLog(fn, msg, level)
	}
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dump(); err != nil {
				b.writeLog("sqlite:dumpLoop", fmt.Sprintf("Error dumping to disk: %v", err), "ERROR")
			} else {
				b.writeLog("sqlite:dumpLoop", fmt.Sprintf("Dumped to disk in %s", time.Since(start)), "DEBUG")
			}
		}
	}
}
