package tracker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

var csvHeader = []string{"Title", "Company", "Location", "Status", "Notes", "Apply URL", "Posted Date", "Saved Date"}

// ExportFileName returns the name of a CSV export made at the given time
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("job-applications-%s.csv", t.UTC().Format("2006-01-02"))
}

// ExportCSV writes all tracked jobs as CSV, in Jobs order. Every data field is quoted
// with embedded quotes doubled. Returns ErrNothingToExport if nothing is tracked.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	jobs := s.Jobs(ctx)
	if len(jobs) == 0 {
		return ErrNothingToExport
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(csvHeader, ",")); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, job := range jobs {
		row := []string{
			job.Title,
			job.Company,
			job.Location,
			StatusInfo(job.Status).Label,
			job.Notes,
			job.ApplyURL,
			job.PostedDate,
			job.SavedAt.UTC().Format("2006-01-02"),
		}
		if _, err := bw.WriteString("\n" + csvRow(row)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", job.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func csvRow(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}
