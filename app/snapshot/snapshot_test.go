package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/storage"
	"github.com/umputun/jobtrack/app/tracker"
)

type exporterFunc func(ctx context.Context, w io.Writer) error

func (f exporterFunc) ExportCSV(ctx context.Context, w io.Writer) error { return f(ctx, w) }

func TestService_Take(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	store := tracker.New(storage.NewMemory())
	svc := New(store, Params{Dir: dir, Keep: 2})
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }

	path, err := svc.Take(t.Context())
	require.NoError(t, err)
	assert.Empty(t, path, "empty store skipped")
	files, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = store.TrackJob(t.Context(), tracker.JobData{ID: "j1", Title: "Engineer"}, enums.StatusApplied)
	require.NoError(t, err)
	path, err = svc.Take(t.Context())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-applications-2026-10-19.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Engineer","","","Applied"`)

	tmps, err := filepath.Glob(filepath.Join(dir, ".snapshot-*"))
	require.NoError(t, err)
	assert.Empty(t, tmps, "no temp files left")
}

func TestService_Keep(t *testing.T) {
	dir := t.TempDir()
	exp := exporterFunc(func(_ context.Context, w io.Writer) error {
		_, err := w.Write([]byte("Title\n\"x\""))
		return err
	})
	svc := New(exp, Params{Dir: dir, Keep: 2})
	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		svc.now = func() time.Time { return day.AddDate(0, 0, i) }
		_, err := svc.Take(t.Context())
		require.NoError(t, err)
	}

	files, err := svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "job-applications-2026-10-04.csv"),
		filepath.Join(dir, "job-applications-2026-10-03.csv")}, files)
}

func TestService_ExportError(t *testing.T) {
	svc := New(exporterFunc(func(context.Context, io.Writer) error { return errors.New("broken") }), Params{Dir: t.TempDir()})
	_, err := svc.Take(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestService_Run(t *testing.T) {
	t.Run("bad schedule", func(t *testing.T) {
		svc := New(tracker.New(storage.NewMemory()), Params{Dir: t.TempDir()})
		err := svc.Run(t.Context(), "not a schedule")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid snapshot schedule")
	})

	t.Run("runs on schedule", func(t *testing.T) {
		dir := t.TempDir()
		store := tracker.New(storage.NewMemory())
		_, err := store.TrackJob(t.Context(), tracker.JobData{ID: "j1"}, enums.Status{})
		require.NoError(t, err)
		svc := New(store, Params{Dir: dir})

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx, "@every 1s") }()

		require.Eventually(t, func() bool {
			files, err := svc.List()
			return err == nil && len(files) == 1
		}, 3*time.Second, 50*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}
