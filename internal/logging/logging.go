package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFilePath names the log file of one run, e.g. logs/parkd.20260212_213836.log.
// Path separators in name are replaced so the file stays inside logsDir.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, sessionStart.Format("20060102_150405")))
}

// OpenLogFile creates logsDir when needed and opens path for appending. A
// file left by an earlier run with the same name is moved to path+".old".
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return nil, fmt.Errorf("failed to rotate %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to create/open log file %s: %w", path, err)
	}
	return f, nil
}
