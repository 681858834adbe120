package main

import (
	"fmt"
	"strings"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/storage/memory"
	pgstorage "github.com/parkspot/tracker/internal/storage/postgres"
	sqlitestorage "github.com/parkspot/tracker/internal/storage/sqlite"
)

// openStore creates the configured backend and initialises it.
func openStore(storageCfg config.StorageConfig, logManager *logging.SlogManager) (storage.Backend, error) {
	backend, err := createStorageBackend(storageCfg, logManager)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", storageName(storageCfg), err)
	}
	return backend, nil
}

func createStorageBackend(storageCfg config.StorageConfig, logManager *logging.SlogManager) (storage.Backend, error) {
	logger := logManager.Logger()
	switch storageName(storageCfg) {
	case "postgres":
		logger.Info("Postgres storage backend initialized",
			"host", storageCfg.Postgres.Host, "database", storageCfg.Postgres.Database)
		return pgstorage.New(pgstorage.Dependencies{
			Config:     storageCfg.Postgres,
			LogManager: logManager,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, logManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "dumpPath", storageCfg.SQLite.DumpPath)
		return backend, nil

	case "memory":
		logger.Info("Memory storage backend initialized", "path", storageCfg.Memory.Path)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

func storageName(storageCfg config.StorageConfig) string {
	name := strings.ToLower(strings.TrimSpace(storageCfg.Type))
	if name == "" {
		return "memory"
	}
	return name
}
