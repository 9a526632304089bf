// Package snapshot writes scheduled CSV exports of tracked jobs to a directory
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/jobtrack/app/tracker"
)

// Exporter writes CSV export of tracked jobs, implemented by tracker.Store
type Exporter interface {
	ExportCSV(ctx context.Context, w io.Writer) error
}

// Params defines snapshot settings
type Params struct {
	Dir  string // destination directory, created if missing
	Keep int    // number of newest snapshots to keep, 0 keeps all
}

// Service makes snapshots on a cron schedule
type Service struct {
	Params
	exporter Exporter
	now      func() time.Time
}

// New makes a snapshot service
func New(exporter Exporter, p Params) *Service {
	return &Service{Params: p, exporter: exporter, now: time.Now}
}

// Run takes snapshots on schedule until ctx is canceled. Schedule is a standard 5-fields
// cron spec or a descriptor like @daily.
func (s *Service) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Take(ctx); err != nil {
			log.Printf("[WARN] snapshot failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	log.Printf("[INFO] snapshots scheduled %q to %s, keep %d", schedule, s.Dir, s.Keep)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Printf("[INFO] snapshots stopped")
	return ctx.Err()
}

// Take writes a snapshot and removes old ones. Returns the snapshot path,
// empty if nothing is tracked.
func (s *Service) Take(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir %s: %w", s.Dir, err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after successful rename

	if err = s.exporter.ExportCSV(ctx, tmp); err != nil {
		_ = tmp.Close()
		if errors.Is(err, tracker.ErrNothingToExport) {
			log.Printf("[DEBUG] nothing tracked, snapshot skipped")
			return "", nil
		}
		return "", fmt.Errorf("failed to export: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	dest := filepath.Join(s.Dir, tracker.ExportFileName(s.now()))
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to save snapshot %s: %w", dest, err)
	}
	log.Printf("[INFO] snapshot saved to %s", dest)

	if err = s.cleanup(); err != nil {
		log.Printf("[WARN] failed to remove old snapshots: %v", err)
	}
	return dest, nil
}

// List returns snapshot files in the directory, newest first
func (s *Service) List() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.Dir, "job-applications-*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files))) // names carry the date
	return files, nil
}

func (s *Service) cleanup() error {
	if s.Keep <= 0 {
		return nil
	}
	files, err := s.List()
	if err != nil {
		return err
	}
	if len(files) <= s.Keep {
		return nil
	}
	var errs []error
	for _, f := range files[s.Keep:] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Printf("[DEBUG] removed old snapshot %s", f)
	}
	return errors.Join(errs...)
}
