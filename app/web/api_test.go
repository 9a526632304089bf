package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/events"
	"github.com/umputun/jobtrack/app/tracker"
)

func apiRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_APIJobsFlow(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.routes()

	// track new job
	rec := apiRequest(t, h, http.MethodPost, "/api/v1/jobs",
		`{"job": {"id": "j1", "title": "Engineer", "company": "Acme"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var job tracker.TrackedJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, "saved", job.Status)
	assert.False(t, job.SavedAt.IsZero())

	// tracking again changes status only
	rec = apiRequest(t, h, http.MethodPost, "/api/v1/jobs",
		`{"job": {"id": "j1", "title": "Other"}, "status": "applied"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "applied", job.Status)
	assert.Equal(t, "Engineer", job.Title)

	rec = apiRequest(t, h, http.MethodPut, "/api/v1/jobs/j1/status", `{"status": "interview"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "interview", job.Status)

	rec = apiRequest(t, h, http.MethodPut, "/api/v1/jobs/j1/notes", `{"notes": "second round friday"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "second round friday", job.Notes)

	rec = apiRequest(t, h, http.MethodGet, "/api/v1/jobs/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "interview", job.Status)
	assert.Equal(t, "second round friday", job.Notes)

	rec = apiRequest(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total": 1, "saved": 0, "applied": 0, "interview": 1, "offer": 0, "rejected": 0}`,
		rec.Body.String())

	rec = apiRequest(t, h, http.MethodDelete, "/api/v1/jobs/j1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = apiRequest(t, h, http.MethodGet, "/api/v1/jobs/j1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "job not found"}`, rec.Body.String())

	rec = apiRequest(t, h, http.MethodDelete, "/api/v1/jobs/j1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_handleAPIJobs(t *testing.T) {
	srv, store := newTestServer(t, Config{})
	ctx := t.Context()
	h := srv.routes()

	rec := apiRequest(t, h, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := store.TrackJob(ctx, tracker.JobData{ID: "a"}, enums.StatusApplied)
	require.NoError(t, err)
	_, err = store.TrackJob(ctx, tracker.JobData{ID: "b"}, enums.StatusSaved)
	require.NoError(t, err)
	_, err = store.TrackJob(ctx, tracker.JobData{ID: "c"}, enums.StatusApplied)
	require.NoError(t, err)

	var jobs []tracker.TrackedJob
	rec = apiRequest(t, h, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	rec = apiRequest(t, h, http.MethodGet, "/api/v1/jobs?status=applied", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, "applied", j.Status)
	}
}

func TestServer_APIErrors(t *testing.T) {
	srv, store := newTestServer(t, Config{})
	_, err := store.TrackJob(t.Context(), tracker.JobData{ID: "j1"}, enums.Status{})
	require.NoError(t, err)
	h := srv.routes()

	tbl := []struct {
		name, method, path, body string
		code                     int
		errMsg                   string
	}{
		{"bad json", http.MethodPost, "/api/v1/jobs", `{bad`, http.StatusBadRequest, "invalid request body"},
		{"empty id", http.MethodPost, "/api/v1/jobs", `{"job": {"title": "x"}}`, http.StatusBadRequest, "job id required"},
		{"bad track status", http.MethodPost, "/api/v1/jobs", `{"job": {"id": "x"}, "status": "hired"}`,
			http.StatusBadRequest, `invalid status "hired"`},
		{"status required", http.MethodPut, "/api/v1/jobs/j1/status", `{}`, http.StatusBadRequest, "status required"},
		{"case sensitive status", http.MethodPut, "/api/v1/jobs/j1/status", `{"status": "Applied"}`,
			http.StatusBadRequest, `invalid status "Applied"`},
		{"status of missing job", http.MethodPut, "/api/v1/jobs/nope/status", `{"status": "offer"}`,
			http.StatusNotFound, "job not found"},
		{"notes of missing job", http.MethodPut, "/api/v1/jobs/nope/notes", `{"notes": "x"}`,
			http.StatusNotFound, "job not found"},
		{"bad notes body", http.MethodPut, "/api/v1/jobs/j1/notes", `[1]`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			rec := apiRequest(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.errMsg, resp["error"])
		})
	}

	job, ok := store.GetJob(t.Context(), "j1")
	require.True(t, ok)
	assert.Equal(t, "saved", job.Status, "failed requests leave the store intact")
	_, ok = store.GetJob(t.Context(), "x")
	assert.False(t, ok)
}

func TestServer_APIStatusesAndSchema(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.routes()

	rec := apiRequest(t, h, http.MethodGet, "/api/v1/statuses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 5)
	assert.Equal(t, "Saved", statuses[0]["label"])
	assert.Equal(t, "❌", statuses[4]["icon"])

	rec = apiRequest(t, h, http.MethodGet, "/api/v1/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"jobtrack store"`)
}

func TestServer_APICrossOrigin(t *testing.T) {
	srv, store := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"job": {"id": "j1"}}`))
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.Jobs(t.Context()))
}

func TestServer_handleAPIEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := newTestServer(t, Config{})
		rec := apiRequest(t, srv.routes(), http.MethodGet, "/api/v1/events", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stream", func(t *testing.T) {
		hub := events.NewHub(8)
		srv, _ := newTestServer(t, Config{Events: hub})
		ts := httptest.NewServer(http.HandlerFunc(srv.handleAPIEvents))
		defer ts.Close()

		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL, http.NoBody)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ": connected\n", line)
		require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

		st := "applied"
		hub.Notify(tracker.Event{JobID: "j1", Status: &st})
		hub.Notify(tracker.Event{JobID: "j1"})

		var got []string
		for len(got) < 4 {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line = strings.TrimSpace(line); line != "" {
				got = append(got, line)
			}
		}
		assert.Equal(t, []string{
			"event: jobTrackerUpdate", `data: {"jobId":"j1","status":"applied"}`,
			"event: jobTrackerUpdate", `data: {"jobId":"j1","status":null}`,
		}, got)

		resp.Body.Close()
		require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond,
			"subscription dropped after client disconnect")
	})
}
