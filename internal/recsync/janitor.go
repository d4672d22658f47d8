package recsync

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultTempFileMaxAge is how old a spool file must be before the janitor
// deletes it.
const DefaultTempFileMaxAge = 60 * time.Minute

// Janitor removes stale download spool files. Best-effort: errors are logged
// and swallowed.
type Janitor struct {
	dir    string
	maxAge time.Duration
	logger *zap.Logger
}

// NewJanitor creates a temp-file janitor for dir.
func NewJanitor(dir string, maxAge time.Duration, logger *zap.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultTempFileMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{dir: dir, maxAge: maxAge, logger: logger}
}

// Sweep deletes files in the spool directory whose modification time is older
// than maxAge relative to now.
func (j *Janitor) Sweep(now time.Time) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("janitor: read temp dir failed", zap.String("dir", j.dir), zap.Error(err))
		}
		return
	}
	cutoff := now.Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(j.dir, e.Name())
		if err := os.Remove(full); err != nil {
			j.logger.Warn("janitor: remove failed", zap.String("file", full), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("janitor removed stale temp files", zap.Int("count", removed), zap.String("dir", j.dir))
	}
}
