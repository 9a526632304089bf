// Package feed loads job postings shown on the job board from a yaml or json file.
// The file is re-read each time its modification time changes.
package feed

//go:generate go run ./internal/schema ../../feed-schema.json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/jobtrack/app/tracker"
)

// Config is the feed file structure
type Config struct {
	Jobs []tracker.JobData `yaml:"jobs" json:"jobs" jsonschema:"description=job postings shown on the board"`
}

// File is a feed backed by a file, thread safe
type File struct {
	path string

	mu    sync.Mutex
	mtime time.Time
	size  int64
	jobs  []tracker.JobData
}

// New makes File for the path, but not parsing yet
func New(path string) *File {
	log.Printf("[INFO] job feed %s", path)
	return &File{path: path}
}

func (f *File) String() string { return f.path }

// List returns postings from the feed file. The file is parsed on the first call and
// again only after it was modified.
func (f *File) List() ([]tracker.JobData, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("can't load feed file %s: %w", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs != nil && st.ModTime().Equal(f.mtime) && st.Size() == f.size {
		return f.jobs, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("can't read feed file %s: %w", f.path, err)
	}
	jobs, err := Parse(data, formatOf(f.path))
	if err != nil {
		return nil, fmt.Errorf("can't parse feed file %s: %w", f.path, err)
	}
	f.jobs, f.mtime, f.size = jobs, st.ModTime(), st.Size()
	log.Printf("[DEBUG] loaded %d jobs from %s", len(jobs), f.path)
	return jobs, nil
}

// Find returns a posting by id
func (f *File) Find(id string) (tracker.JobData, bool) {
	jobs, err := f.List()
	if err != nil {
		log.Printf("[WARN] %v", err)
		return tracker.JobData{}, false
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, true
		}
	}
	return tracker.JobData{}, false
}

// Parse decodes feed data in "json" or "yaml" format. Entries without id are skipped,
// for duplicated ids the first entry wins.
func Parse(data []byte, format string) ([]tracker.JobData, error) {
	var cfg Config
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported feed format %q", format)
	}

	res := make([]tracker.JobData, 0, len(cfg.Jobs))
	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		j.ID = strings.TrimSpace(j.ID)
		if j.ID == "" {
			log.Printf("[WARN] feed entry #%d (%q) has no id, skipped", i, j.Title)
			continue
		}
		if seen[j.ID] {
			log.Printf("[WARN] feed entry #%d has duplicated id %s, skipped", i, j.ID)
			continue
		}
		seen[j.ID] = true
		res = append(res, j)
	}
	return res, nil
}

// formatOf detects feed format by file extension, yaml is the default
func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}
