// Package memory implements storage.Backend as an in-memory map persisted to
// a JSON file after every write.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/pkg/core"
)

type entry struct {
	rec core.LocationRecord
	seq uint64
}

// Backend stores records in memory and mirrors them to a JSON file.
// An empty path keeps everything in memory only.
type Backend struct {
	path string
	now  func() time.Time

	records map[string]*entry
	seq     uint64
	mu      sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	path := cfg.Path
	if path != "" && cfg.Compress && !storage.IsGzipPath(path) {
		path += ".gz"
	}
	return &Backend{
		path:    path,
		now:     time.Now,
		records: make(map[string]*entry),
	}
}

// Path returns the backing file, or "" when not persisted.
func (b *Backend) Path() string {
	return b.path
}

// Init loads the backing file if it exists.
func (b *Backend) Init() error {
	if b.path == "" {
		return nil
	}

	exp, err := storage.ReadExportFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", b.path, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = make(map[string]*entry, len(exp.Records))
	b.seq = 0
	// the file is newest-first; assign sequence oldest-first so ties keep order
	for i := len(exp.Records) - 1; i >= 0; i-- {
		b.seq++
		rec := exp.Records[i]
		b.records[rec.ID] = &entry{rec: rec, seq: b.seq}
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// sortedLocked returns deep copies, most-recent-first. Caller holds mu.
func (b *Backend) sortedLocked() []core.LocationRecord {
	entries := make([]*entry, 0, len(b.records))
	for _, e := range b.records {
		entries = append(entries, e)
	}
	// newest insert first, so the stable sort breaks timestamp ties that way
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq > entries[j].seq
	})

	out := make([]core.LocationRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec.Clone()
	}
	storage.SortRecords(out)
	return out
}

// flushLocked writes the current state to disk. Caller holds mu.
func (b *Backend) flushLocked() error {
	if b.path == "" {
		return nil
	}
	return storage.WriteExportFile(b.path, b.sortedLocked(), b.now())
}

// GetAll returns every record, most-recent-first.
func (b *Backend) GetAll(ctx context.Context) ([]core.LocationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedLocked(), nil
}

// Get returns the record with the given id.
func (b *Backend) Get(ctx context.Context, id string) (core.LocationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.records[id]
	if !ok {
		return core.LocationRecord{}, storage.ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Save inserts or replaces rec. State is rolled back if the file write fails.
func (b *Backend) Save(ctx context.Context, rec core.LocationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, existed := b.records[rec.ID]
	seq := b.seq + 1
	if existed {
		seq = prev.seq
	}
	b.records[rec.ID] = &entry{rec: rec.Clone(), seq: seq}

	if err := b.flushLocked(); err != nil {
		if existed {
			b.records[rec.ID] = prev
		} else {
			delete(b.records, rec.ID)
		}
		return fmt.Errorf("failed to persist %s: %w", rec.ID, err)
	}
	b.seq = max(b.seq, seq)
	return nil
}

// Update merges patch into the stored record.
func (b *Backend) Update(ctx context.Context, id string, patch core.Patch) (core.LocationRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.records[id]
	if !ok {
		return core.LocationRecord{}, storage.ErrNotFound
	}
	merged := prev.rec.Apply(patch)
	b.records[id] = &entry{rec: merged, seq: prev.seq}

	if err := b.flushLocked(); err != nil {
		b.records[id] = prev
		return core.LocationRecord{}, fmt.Errorf("failed to persist %s: %w", id, err)
	}
	return merged.Clone(), nil
}

// Delete removes the record with the given id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(b.records, id)

	if err := b.flushLocked(); err != nil {
		b.records[id] = prev
		return fmt.Errorf("failed to persist delete of %s: %w", id, err)
	}
	return nil
}

// Snapshot returns the backing file, which is rewritten atomically on every change.
func (b *Backend) Snapshot(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == "" {
		return "", fmt.Errorf("memory store has no backing file")
	}
	if err := b.flushLocked(); err != nil {
		return "", err
	}
	return b.path, nil
}
