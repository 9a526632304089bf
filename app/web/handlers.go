package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/mount"
	"github.com/umputun/jobtrack/app/tracker"
)

// widgetData is the view of a single tracker widget
type widgetData struct {
	Job     tracker.JobData
	Tracked bool
	Info    tracker.Info          // current status presentation
	Others  []tracker.StatusEntry // statuses the job can be moved to
}

// trackedView is a row on the applications page
type trackedView struct {
	tracker.TrackedJob
	Widget widgetData
}

// updateTrigger is sent in HX-Trigger header after tracker mutations
type updateTrigger struct {
	Update tracker.Event `json:"jobTrackerUpdate"`
}

// handleBoard renders the job board with postings from the feed
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	if s.jobsProvider != nil {
		postings, err := s.jobsProvider.List()
		if err != nil {
			log.Printf("[WARN] failed to load job feed: %v", err)
			data.FeedError = "Job feed is not available"
		}
		for _, p := range postings {
			data.Postings = append(data.Postings, s.widget(r.Context(), p))
		}
	}
	s.render(w, "board", "base", data)
}

// handleTracker renders tracked applications, optionally filtered by status
func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Filter = r.URL.Query().Get("status")

	jobs := s.store.Jobs(r.Context())
	if data.Filter != "" {
		jobs = s.store.JobsByStatus(r.Context(), data.Filter)
	}
	for _, job := range jobs {
		data.Jobs = append(data.Jobs, trackedView{TrackedJob: job, Widget: s.widgetFor(descriptor(job), &job)})
	}
	s.render(w, "tracker", "base", data)
}

// handlePage serves a static job-board page with tracker widgets mounted, other files are served as is
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + r.PathValue("path"))
	if rel == "/" {
		rel = "/index.html"
	}
	fname := filepath.Join(s.pagesDir, filepath.FromSlash(rel))

	st, err := os.Stat(fname)
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	if ext := strings.ToLower(filepath.Ext(fname)); ext != ".html" && ext != ".htm" {
		http.ServeFile(w, r, fname)
		return
	}

	f, err := os.Open(fname) //nolint:gosec // path is cleaned and rooted in pages dir
	if err != nil {
		log.Printf("[WARN] failed to open page %s: %v", fname, err)
		http.Error(w, "Failed to open page", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	count, err := mount.Render(r.Context(), f, &buf, s)
	if err != nil {
		log.Printf("[WARN] failed to render page %s: %v", fname, err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	log.Printf("[DEBUG] page %s rendered with %d widget(s)", rel, count)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// RenderWidget writes widget html for a job, used to mount widgets into static pages
func (s *Server) RenderWidget(ctx context.Context, w io.Writer, job tracker.JobData) error {
	tmpl, ok := s.templates["partials"]
	if !ok {
		return errors.New("partials template not found")
	}
	return tmpl.ExecuteTemplate(w, "widget", s.widget(ctx, job))
}

// handleTrack starts tracking a job. The descriptor comes from the feed if the job is listed there,
// otherwise from the submitted form.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	status, err := parseStatus(r.FormValue("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, found := tracker.JobData{}, false
	if s.jobsProvider != nil {
		data, found = s.jobsProvider.Find(id)
	}
	if !found {
		data = tracker.JobData{
			ID:         id,
			Title:      r.FormValue("title"),
			Company:    r.FormValue("company"),
			Location:   r.FormValue("location"),
			ApplyURL:   r.FormValue("applyUrl"),
			PageURL:    r.FormValue("pageUrl"),
			PostedDate: r.FormValue("postedDate"),
			Category:   r.FormValue("category"),
		}
	}

	job, err := s.store.TrackJob(r.Context(), data, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st := job.Status
	s.renderWidgetUpdate(w, r, s.widgetFor(data, &job), &tracker.Event{JobID: id, Status: &st})
}

// handleStatus changes status of a tracked job
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := enums.ParseStatus(r.FormValue("status"))
	if err != nil {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	ok, err := s.store.UpdateStatus(r.Context(), id, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "Job is not tracked", http.StatusNotFound)
		return
	}
	job, ok := s.store.GetJob(r.Context(), id)
	if !ok {
		http.Error(w, "Job is not tracked", http.StatusNotFound)
		return
	}
	st := status.String()
	s.renderWidgetUpdate(w, r, s.widgetFor(descriptor(job), &job), &tracker.Event{JobID: id, Status: &st})
}

// handleNotes saves notes of a tracked job. Notes changes are not broadcast.
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.UpdateNotes(r.Context(), id, r.FormValue("notes")) {
		http.Error(w, "Job is not tracked", http.StatusNotFound)
		return
	}
	s.render(w, "partials", "message", "Notes saved")
}

// handleRemove stops tracking a job, responds with the untracked widget
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.store.GetJob(r.Context(), id)
	if !ok || !s.store.RemoveJob(r.Context(), id) {
		http.Error(w, "Job is not tracked", http.StatusNotFound)
		return
	}
	s.renderWidgetUpdate(w, r, s.widgetFor(descriptor(job), nil), &tracker.Event{JobID: id})
}

// handleWidget renders the widget for a job, the descriptor comes from the store or the feed
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if job, ok := s.store.GetJob(r.Context(), id); ok {
		s.render(w, "partials", "widget", s.widgetFor(descriptor(job), &job))
		return
	}
	if s.jobsProvider != nil {
		if data, ok := s.jobsProvider.Find(id); ok {
			s.render(w, "partials", "widget", s.widgetFor(data, nil))
			return
		}
	}
	http.Error(w, "Job not found", http.StatusNotFound)
}

// handleStats renders the stats panel
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Filter = r.URL.Query().Get("status")
	s.render(w, "partials", "stats-panel", data)
}

// handleThemeToggle toggles the theme
func (s *Server) handleThemeToggle(w http.ResponseWriter, r *http.Request) {
	nextTheme := enums.ThemeLight
	if s.getTheme(r) == enums.ThemeLight {
		nextTheme = enums.ThemeDark
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "theme",
		Value:    nextTheme.String(),
		Path:     s.cookiePath(),
		MaxAge:   365 * 24 * 60 * 60, // 1 year
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// trigger full page refresh for theme change
	w.Header().Set("HX-Refresh", "true")
	w.WriteHeader(http.StatusOK)
}

// handleExport sends CSV export of all tracked jobs as a download
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := s.store.ExportCSV(r.Context(), &buf)
	if errors.Is(err, tracker.ErrNothingToExport) {
		if r.Header.Get("HX-Request") == "true" {
			s.render(w, "partials", "message", "No tracked jobs to export.")
			return
		}
		http.Error(w, "No tracked jobs to export.", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[ERROR] failed to export tracked jobs: %v", err)
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tracker.ExportFileName(s.now())))
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write export: %v", err)
	}
}

// renderWidgetUpdate writes the re-rendered widget with out-of-band stats badge
// and sets HX-Trigger with the change event
func (s *Server) renderWidgetUpdate(w http.ResponseWriter, r *http.Request, wd widgetData, ev *tracker.Event) {
	tmpl, ok := s.templates["partials"]
	if !ok {
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "widget", wd); err != nil {
		log.Printf("[WARN] failed to render widget: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	stats := TemplateData{Stats: s.store.Stats(r.Context()), IsOOB: true}
	if err := tmpl.ExecuteTemplate(&buf, "stats-badge", stats); err != nil {
		log.Printf("[WARN] failed to render stats badge: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	if ev != nil {
		trigger, err := json.Marshal(updateTrigger{Update: *ev})
		if err != nil {
			log.Printf("[WARN] failed to encode trigger: %v", err)
		} else {
			w.Header().Set("HX-Trigger", string(trigger))
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// widget makes widget view for a job descriptor with the tracked state from the store
func (s *Server) widget(ctx context.Context, data tracker.JobData) widgetData {
	if job, ok := s.store.GetJob(ctx, data.ID); ok {
		return s.widgetFor(data, &job)
	}
	return s.widgetFor(data, nil)
}

// widgetFor makes widget view, unknown statuses are shown as saved with every status offered
func (s *Server) widgetFor(data tracker.JobData, job *tracker.TrackedJob) widgetData {
	res := widgetData{Job: data}
	if job == nil {
		return res
	}
	res.Tracked = true
	current, known := job.KnownStatus()
	if !known {
		current = enums.StatusSaved
	}
	for _, e := range tracker.Statuses() {
		if e.Status == current {
			res.Info = e.Info
			if known {
				continue
			}
		}
		res.Others = append(res.Others, e)
	}
	return res
}

// descriptor restores job descriptor from a tracked record
func descriptor(job tracker.TrackedJob) tracker.JobData {
	return tracker.JobData{
		ID:         job.ID,
		Title:      job.Title,
		Company:    job.Company,
		Location:   job.Location,
		ApplyURL:   job.ApplyURL,
		PageURL:    job.PageURL,
		PostedDate: job.PostedDate,
		Category:   job.Category,
	}
}

// parseStatus parses optional status, empty means saved
func parseStatus(v string) (enums.Status, error) {
	if v == "" {
		return enums.StatusSaved, nil
	}
	st, err := enums.ParseStatus(v)
	if err != nil {
		return enums.Status{}, fmt.Errorf("invalid status %q", v)
	}
	return st, nil
}
