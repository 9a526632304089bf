// Package tracker implements the job application tracking store. All tracked jobs are kept
// as a single JSON object (job id -> record) under one key of an injected storage backend.
// Every mutation reads the whole blob, modifies it in memory and writes the whole blob back,
// so the unit of atomicity is the entire store, not a single record.
//
// Storage failures never surface to callers: a failed read is treated as an empty store
// and a failed write leaves the change unpersisted, both are logged.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/storage"
)

// DefaultKey is the storage key used by the browser widget and kept for compatibility
const DefaultKey = "canada_tech_jobs_tracker"

// isoLayout matches javascript Date.toISOString output
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrInvalidStatus returned when a status outside of the fixed enumeration is passed in
	ErrInvalidStatus = errors.New("invalid status")
	// ErrEmptyID returned when a job descriptor has no id
	ErrEmptyID = errors.New("empty job id")
	// ErrNothingToExport returned by ExportCSV when there are no tracked jobs
	ErrNothingToExport = errors.New("no tracked jobs to export")
)

// Backend is a key-value storage holding the serialized store.
// Get returns storage.ErrNotFound if the key was never written.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Notifier receives change notifications. Notify must not block.
type Notifier interface {
	Notify(ev Event)
}

// Event is a change notification emitted on create, status change and removal.
// Status is nil for removed jobs.
type Event struct {
	JobID  string  `json:"jobId"`
	Status *string `json:"status"`
}

// Removed reports whether the event signals a deletion
func (e Event) Removed() bool { return e.Status == nil }

// JobData is a job descriptor supplied by the caller on first tracking
type JobData struct {
	ID         string `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Company    string `json:"company" yaml:"company"`
	Location   string `json:"location" yaml:"location"`
	ApplyURL   string `json:"applyUrl" yaml:"applyUrl"`
	PageURL    string `json:"pageUrl" yaml:"pageUrl"`
	PostedDate string `json:"postedDate" yaml:"postedDate"`
	Category   string `json:"category" yaml:"category"`
}

// TrackedJob is a persisted record for a single job id. Descriptive fields are copied
// from JobData once and never change, only Status, Notes and UpdatedAt are mutable.
// Status holds the raw stored value and may be unrecognized if the blob was written
// by another client.
type TrackedJob struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	ApplyURL   string    `json:"applyUrl"`
	PageURL    string    `json:"pageUrl"`
	PostedDate string    `json:"postedDate"`
	Category   string    `json:"category"`
	Status     string    `json:"status" jsonschema:"enum=saved,enum=applied,enum=interview,enum=offer,enum=rejected"`
	Notes      string    `json:"notes"`
	SavedAt    time.Time `json:"savedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MarshalJSON writes timestamps in UTC with millisecond precision
func (j TrackedJob) MarshalJSON() ([]byte, error) {
	type plain TrackedJob
	return json.Marshal(struct {
		plain
		SavedAt   string `json:"savedAt"`
		UpdatedAt string `json:"updatedAt"`
	}{
		plain:     plain(j),
		SavedAt:   j.SavedAt.UTC().Format(isoLayout),
		UpdatedAt: j.UpdatedAt.UTC().Format(isoLayout),
	})
}

// KnownStatus returns the parsed status and false if the stored value is unrecognized
func (j TrackedJob) KnownStatus() (enums.Status, bool) {
	st, err := enums.ParseStatus(j.Status)
	return st, err == nil
}

// Stats holds the number of tracked jobs, total and per status.
// Jobs with unrecognized statuses are counted in Total only.
type Stats struct {
	Total     int `json:"total"`
	Saved     int `json:"saved"`
	Applied   int `json:"applied"`
	Interview int `json:"interview"`
	Offer     int `json:"offer"`
	Rejected  int `json:"rejected"`
}

// Count returns the number of jobs with the given status
func (s Stats) Count(status enums.Status) int {
	switch status {
	case enums.StatusSaved:
		return s.Saved
	case enums.StatusApplied:
		return s.Applied
	case enums.StatusInterview:
		return s.Interview
	case enums.StatusOffer:
		return s.Offer
	case enums.StatusRejected:
		return s.Rejected
	}
	return 0
}

// Store is the job tracking store
type Store struct {
	backend  Backend
	key      string
	notifier Notifier
	now      func() time.Time
	mu       sync.Mutex // serializes read-modify-write cycles
}

// Option sets optional Store parameters
type Option func(s *Store)

// WithKey sets the storage key, DefaultKey is used if not set
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithNotifier sets the change notifications receiver
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithClock sets the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New makes a Store on top of the given backend
func New(backend Backend, opts ...Option) *Store {
	res := &Store{backend: backend, key: DefaultKey, now: time.Now}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Key returns the storage key used by the store
func (s *Store) Key() string { return s.key }

// TrackJob creates a record for data.ID if absent, otherwise updates only status and UpdatedAt
// of the existing record. Zero status means enums.StatusSaved.
func (s *Store) TrackJob(ctx context.Context, data JobData, status enums.Status) (TrackedJob, error) {
	if data.ID == "" {
		return TrackedJob{}, ErrEmptyID
	}
	if status == (enums.Status{}) {
		status = enums.StatusSaved
	}
	if err := validStatus(status); err != nil {
		return TrackedJob{}, err
	}

	s.mu.Lock()
	jobs := s.load(ctx)
	job, exists := jobs[data.ID]
	if exists {
		job.Status = status.String()
		job.UpdatedAt = s.stamp(job.UpdatedAt)
	} else {
		ts := s.stamp(time.Time{})
		job = TrackedJob{
			ID:         data.ID,
			Title:      data.Title,
			Company:    data.Company,
			Location:   data.Location,
			ApplyURL:   data.ApplyURL,
			PageURL:    data.PageURL,
			PostedDate: data.PostedDate,
			Category:   data.Category,
			Status:     status.String(),
			SavedAt:    ts,
			UpdatedAt:  ts,
		}
	}
	jobs[data.ID] = job
	s.save(ctx, jobs)
	s.notify(data.ID, status.String())
	s.mu.Unlock()
	return job, nil
}

// UpdateStatus sets status of a tracked job. Returns false if the job is not tracked.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status enums.Status) (bool, error) {
	if err := validStatus(status); err != nil {
		return false, err
	}

	s.mu.Lock()
	jobs := s.load(ctx)
	job, ok := jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	job.Status = status.String()
	job.UpdatedAt = s.stamp(job.UpdatedAt)
	jobs[jobID] = job
	s.save(ctx, jobs)
	s.notify(jobID, status.String())
	s.mu.Unlock()
	return true, nil
}

// UpdateNotes sets notes of a tracked job. Returns false if the job is not tracked.
// Notes changes don't emit change notifications.
func (s *Store) UpdateNotes(ctx context.Context, jobID, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.load(ctx)
	job, ok := jobs[jobID]
	if !ok {
		return false
	}
	job.Notes = notes
	job.UpdatedAt = s.stamp(job.UpdatedAt)
	jobs[jobID] = job
	s.save(ctx, jobs)
	return true
}

// RemoveJob deletes a tracked job. Returns false if the job is not tracked.
func (s *Store) RemoveJob(ctx context.Context, jobID string) bool {
	s.mu.Lock()
	jobs := s.load(ctx)
	if _, ok := jobs[jobID]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(jobs, jobID)
	s.save(ctx, jobs)
	if s.notifier != nil {
		s.notifier.Notify(Event{JobID: jobID})
	}
	s.mu.Unlock()
	return true
}

// GetJob returns a tracked job by id
func (s *Store) GetJob(ctx context.Context, jobID string) (TrackedJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.load(ctx)[jobID]
	return job, ok
}

// AllJobs returns the whole id -> job mapping
func (s *Store) AllJobs(ctx context.Context) map[string]TrackedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Jobs returns all tracked jobs, most recently updated first. Jobs with equal UpdatedAt
// are ordered by id.
func (s *Store) Jobs(ctx context.Context) []TrackedJob {
	jobs := s.AllJobs(ctx)
	res := make([]TrackedJob, 0, len(jobs))
	for _, job := range jobs {
		res = append(res, job)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res
}

// JobsByStatus returns tracked jobs with the given raw status, in Jobs order
func (s *Store) JobsByStatus(ctx context.Context, status string) []TrackedJob {
	jobs := s.Jobs(ctx)
	res := make([]TrackedJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Status == status {
			res = append(res, job)
		}
	}
	return res
}

// Stats returns counts of tracked jobs
func (s *Store) Stats(ctx context.Context) Stats {
	jobs := s.AllJobs(ctx)
	res := Stats{Total: len(jobs)}
	for _, job := range jobs {
		st, ok := job.KnownStatus()
		if !ok {
			continue
		}
		switch st {
		case enums.StatusSaved:
			res.Saved++
		case enums.StatusApplied:
			res.Applied++
		case enums.StatusInterview:
			res.Interview++
		case enums.StatusOffer:
			res.Offer++
		case enums.StatusRejected:
			res.Rejected++
		}
	}
	return res
}

// load reads and decodes the blob, any failure results in an empty store
func (s *Store) load(ctx context.Context) map[string]TrackedJob {
	jobs := map[string]TrackedJob{}
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[WARN] failed to read tracker data from %q: %v", s.key, err)
		}
		return jobs
	}
	if len(data) == 0 {
		return jobs
	}
	if err := json.Unmarshal(data, &jobs); err != nil {
		log.Printf("[WARN] failed to decode tracker data from %q: %v", s.key, err)
		return map[string]TrackedJob{}
	}
	for id, job := range jobs {
		if job.ID == "" {
			job.ID = id
			jobs[id] = job
		}
	}
	return jobs
}

// save encodes and writes the blob, failure is logged and the change is not persisted
func (s *Store) save(ctx context.Context, jobs map[string]TrackedJob) {
	data, err := json.Marshal(jobs)
	if err != nil {
		log.Printf("[WARN] failed to encode tracker data: %v", err)
		return
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		log.Printf("[WARN] failed to save tracker data to %q: %v", s.key, err)
	}
}

// stamp returns the current time truncated to milliseconds, always after prev
func (s *Store) stamp(prev time.Time) time.Time {
	ts := s.now().UTC().Truncate(time.Millisecond)
	if !ts.After(prev) {
		ts = prev.Add(time.Millisecond)
	}
	return ts
}

// notify is called under the lock, so events are delivered in the order of writes.
// Notifiers must not block and must not call back into the store.
func (s *Store) notify(jobID, status string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Event{JobID: jobID, Status: &status})
}

func validStatus(status enums.Status) error {
	if _, err := enums.ParseStatus(status.String()); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status.String())
	}
	return nil
}
