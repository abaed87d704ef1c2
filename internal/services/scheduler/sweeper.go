package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
)

// ActiveInputSource reports upload paths still owned by the job queue
type ActiveInputSource interface {
	ActiveInputs() []string
}

// UploadSweeper removes uploads that outlived their job, e.g. after a crash
// between saving the file and enqueueing it.
type UploadSweeper struct {
	dir    string
	maxAge time.Duration
	active ActiveInputSource
	logger arbor.ILogger
	now    func() time.Time
}

// NewUploadSweeper creates a sweeper over dir
func NewUploadSweeper(dir string, maxAge time.Duration, active ActiveInputSource, logger arbor.ILogger) *UploadSweeper {
	return &UploadSweeper{
		dir:    dir,
		maxAge: maxAge,
		active: active,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep deletes regular files older than maxAge that no queued or running
// job references. It returns the number of files removed.
func (s *UploadSweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	keep := make(map[string]struct{})
	for _, path := range s.active.ActiveInputs() {
		if abs, err := filepath.Abs(path); err == nil {
			keep[abs] = struct{}{}
		}
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path, err := filepath.Abs(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		if _, ok := keep[path]; ok {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove orphaned upload")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("dir", s.dir).
			Msg("Swept orphaned uploads")
	}
	return removed, nil
}

// Run adapts Sweep to a scheduler job handler
func (s *UploadSweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
