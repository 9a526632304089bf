package tracker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/storage"
)

func TestStore_ExportCSV(t *testing.T) {
	ctx := t.Context()
	store := New(storage.NewMemory(), WithClock(testClock(time.Date(2026, 4, 5, 23, 0, 0, 0, time.UTC), time.Hour)))

	_, err := store.TrackJob(ctx, engineerJob, enums.StatusApplied)
	require.NoError(t, err)
	require.True(t, store.UpdateNotes(ctx, "j1", `He said "great fit"`))
	_, err = store.TrackJob(ctx, JobData{ID: "j2", Title: "Analyst, Data", Company: "Beta", PostedDate: "2026-04-01"}, enums.Status{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, store.ExportCSV(ctx, &buf))

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 3, "header and one line per job, no trailing newline")
	assert.Equal(t, "Title,Company,Location,Status,Notes,Apply URL,Posted Date,Saved Date", lines[0])
	assert.Equal(t, `"Analyst, Data","Beta","","Saved","","","2026-04-01","2026-04-06"`, lines[1])
	assert.Equal(t, `"Engineer","Acme","Toronto, ON","Applied","He said ""great fit""","https://acme.example.com/apply",`+
		`"2026-01-10","2026-04-06"`, lines[2])
}

func TestStore_ExportCSVUnknownStatus(t *testing.T) {
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(t.Context(), DefaultKey, []byte(`{"x": {"id": "x", "title": "T", "status": "ghosted",
		"savedAt": "2026-01-02T10:00:00.000Z", "updatedAt": "2026-01-02T10:00:00.000Z"}}`)))

	var buf bytes.Buffer
	require.NoError(t, New(backend).ExportCSV(t.Context(), &buf))
	assert.Contains(t, buf.String(), `"T","","","ghosted","","","","2026-01-02"`)
}

func TestStore_ExportCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := New(storage.NewMemory()).ExportCSV(t.Context(), &buf)
	require.ErrorIs(t, err, ErrNothingToExport)
	assert.Empty(t, buf.String())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestStore_ExportCSVWriteError(t *testing.T) {
	store := New(storage.NewMemory())
	_, err := store.TrackJob(t.Context(), engineerJob, enums.Status{})
	require.NoError(t, err)
	err = store.ExportCSV(t.Context(), brokenWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "job-applications-2026-10-19.csv", ExportFileName(time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)))
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "job-applications-2026-10-20.csv", ExportFileName(time.Date(2026, 10, 19, 21, 0, 0, 0, est)))
}

func TestCsvRow(t *testing.T) {
	tbl := []struct {
		in  []string
		out string
	}{
		{[]string{"a"}, `"a"`},
		{[]string{"", ""}, `"",""`},
		{[]string{`say "hi"`, "x,y"}, `"say ""hi""","x,y"`},
		{[]string{"line1\nline2"}, "\"line1\nline2\""},
	}
	for i, tt := range tbl {
		t.Run(strings.Join(tt.in, "|"), func(t *testing.T) {
			assert.Equal(t, tt.out, csvRow(tt.in), "case #%d", i)
		})
	}
}
