package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parkspot/tracker/pkg/core"
)

// ExportVersion is the current export file format.
const ExportVersion = 1

// Export is the on-disk JSON format shared by the file store and the
// export command.
type Export struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exportedAt"`
	Records    []core.LocationRecord `json:"records"`
}

// SortRecords orders records most-recent-first. The sort is stable so
// callers can pre-order ties.
func SortRecords(records []core.LocationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// WriteExport encodes records as an Export.
func WriteExport(w io.Writer, records []core.LocationRecord, now time.Time) error {
	if records == nil {
		records = []core.LocationRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Export{Version: ExportVersion, ExportedAt: now.UTC(), Records: records})
}

// ReadExport decodes an Export.
func ReadExport(r io.Reader) (Export, error) {
	var e Export
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return Export{}, fmt.Errorf("failed to decode export: %w", err)
	}
	if e.Version > ExportVersion {
		return Export{}, fmt.Errorf("unsupported export version %d", e.Version)
	}
	return e, nil
}

// IsGzipPath reports whether path names a gzip-compressed export.
func IsGzipPath(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// WriteExportFile atomically writes records to path, gzip-compressed when
// path ends in ".gz".
func WriteExportFile(path string, records []core.LocationRecord, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var gz *gzip.Writer
	if IsGzipPath(path) {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if err := WriteExport(w, records, now); err != nil {
		tmp.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadExportFile reads an export written by WriteExportFile.
func ReadExportFile(path string) (Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return Export{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if IsGzipPath(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Export{}, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return ReadExport(r)
}

// ExportBackend writes every record of b to path.
func ExportBackend(ctx context.Context, b Backend, path string) (int, error) {
	records, err := b.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := WriteExportFile(path, records, time.Now()); err != nil {
		return 0, err
	}
	return len(records), nil
}
