package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LogStorage manages session log files, one directory per run and one
// append-only file per stage.
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// OpenLog opens (creating if needed) the log of one stage of a run for
// appending. It implements core.LogSink.
func (ls *LogStorage) OpenLog(runID string, stage int) (io.WriteCloser, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(ls.LogPath(runID, stage), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return f, nil
}

// LogPath returns where the log of a stage lives.
func (ls *LogStorage) LogPath(runID string, stage int) string {
	return filepath.Join(ls.BaseDir, sanitize(runID), fmt.Sprintf("stage-%d.log", stage))
}

// ReadLog returns the stored log of a stage.
func (ls *LogStorage) ReadLog(runID string, stage int) ([]byte, error) {
	return os.ReadFile(ls.LogPath(runID, stage))
}

// sanitize removes special characters from run ids for filenames
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		return "run"
	}
	return string(clean)
}
