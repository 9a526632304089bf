package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/tracker"
)

// APITrackRequest is the body of POST /api/v1/jobs
type APITrackRequest struct {
	Job    tracker.JobData `json:"job"`
	Status string          `json:"status,omitempty"`
}

// APIStatusRequest is the body of PUT /api/v1/jobs/{id}/status
type APIStatusRequest struct {
	Status string `json:"status"`
}

// APINotesRequest is the body of PUT /api/v1/jobs/{id}/notes
type APINotesRequest struct {
	Notes string `json:"notes"`
}

// handleAPIJobs returns tracked jobs, most recently updated first, optionally filtered by status
func (s *Server) handleAPIJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.store.Jobs(r.Context())
	if status := r.URL.Query().Get("status"); status != "" {
		jobs = s.store.JobsByStatus(r.Context(), status)
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// handleAPIJob returns a single tracked job
func (s *Server) handleAPIJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.store.GetJob(r.Context(), r.PathValue("id"))
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleAPITrack starts tracking a job or changes status of an already tracked one
func (s *Server) handleAPITrack(w http.ResponseWriter, r *http.Request) {
	var req APITrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, existed := s.store.GetJob(r.Context(), req.Job.ID)
	job, err := s.store.TrackJob(r.Context(), req.Job, status)
	if err != nil {
		if errors.Is(err, tracker.ErrEmptyID) {
			s.writeJSONError(w, http.StatusBadRequest, "job id required")
			return
		}
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	s.writeJSON(w, code, job)
}

// handleAPIStatus changes status of a tracked job
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	var req APIStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		s.writeJSONError(w, http.StatusBadRequest, "status required")
		return
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	ok, err := s.store.UpdateStatus(r.Context(), id, status)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	job, ok := s.store.GetJob(r.Context(), id)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleAPINotes sets notes of a tracked job
func (s *Server) handleAPINotes(w http.ResponseWriter, r *http.Request) {
	var req APINotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if !s.store.UpdateNotes(r.Context(), id, req.Notes) {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	job, ok := s.store.GetJob(r.Context(), id)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleAPIRemove stops tracking a job
func (s *Server) handleAPIRemove(w http.ResponseWriter, r *http.Request) {
	if !s.store.RemoveJob(r.Context(), r.PathValue("id")) {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAPIStats returns job counts, total and per status
func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Stats(r.Context()))
}

// handleAPIStatuses returns all statuses with labels, icons and colors
func (s *Server) handleAPIStatuses(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, tracker.Statuses())
}

// handleAPISchema returns JSON schema of the stored data
func (s *Server) handleAPISchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, tracker.Schema())
}

// handleAPIEvents streams change events as server-sent events until the client disconnects
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSONError(w, http.StatusNotFound, "events are not enabled")
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Printf("[DEBUG] can't reset write deadline for event stream: %v", err)
	}

	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Printf("[WARN] event stream is not supported: %v", err)
		return
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[WARN] failed to encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: jobTrackerUpdate\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
