// Package web implements the web server for jobtrack: job board, tracked applications page,
// HTMX endpoints for tracker widgets and JSON API
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/tracker"
)

//go:embed templates/*.html templates/partials/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Store defines tracker operations used by the web server, implemented by tracker.Store
type Store interface {
	TrackJob(ctx context.Context, data tracker.JobData, status enums.Status) (tracker.TrackedJob, error)
	UpdateStatus(ctx context.Context, jobID string, status enums.Status) (bool, error)
	UpdateNotes(ctx context.Context, jobID, notes string) bool
	RemoveJob(ctx context.Context, jobID string) bool
	GetJob(ctx context.Context, jobID string) (tracker.TrackedJob, bool)
	Jobs(ctx context.Context) []tracker.TrackedJob
	JobsByStatus(ctx context.Context, status string) []tracker.TrackedJob
	Stats(ctx context.Context) tracker.Stats
	ExportCSV(ctx context.Context, w io.Writer) error
}

// JobsProvider loads job postings shown on the board, implemented by feed.File
type JobsProvider interface {
	List() ([]tracker.JobData, error)
	Find(id string) (tracker.JobData, bool)
}

// EventSource provides change events subscription, implemented by events.Hub
type EventSource interface {
	Subscribe() (<-chan tracker.Event, func())
}

// session represents an active user session
type session struct {
	token     string
	createdAt time.Time
}

// Server represents the web server
type Server struct {
	store          Store
	jobsProvider   JobsProvider
	events         EventSource
	templates      map[string]*template.Template
	pagesDir       string
	baseURL        string // base URL path for reverse proxy (e.g., /jobtrack), empty for root
	hostname       string
	version        string
	passwordHash   string                      // bcrypt hash for auth
	loginTTL       time.Duration               // session TTL
	csrfProtection *http.CrossOriginProtection // csrf protection for unsafe methods
	sessions       map[string]session          // active user sessions
	sessionsMu     sync.Mutex
	now            func() time.Time
}

// Config holds server configuration
type Config struct {
	Store        Store        // required
	JobsProvider JobsProvider // postings for the board, optional
	Events       EventSource  // change events for /api/v1/events, optional
	PagesDir     string       // static job-board pages served with mounted widgets, optional
	BaseURL      string       // base URL path for reverse proxy (e.g., /jobtrack), empty for root
	Hostname     string       // hostname to display in UI
	Version      string
	PasswordHash string        // bcrypt hash for auth (empty to disable)
	LoginTTL     time.Duration // session TTL, defaults to 24h if not set
}

// TemplateData holds data for page templates
type TemplateData struct {
	BaseURL     string
	Hostname    string
	Theme       enums.Theme
	CurrentYear int
	AuthEnabled bool
	Version     string
	FullVersion string
	Stats       tracker.Stats
	Statuses    []tracker.StatusEntry
	Postings    []widgetData  // job board postings with widgets
	Jobs        []trackedView // tracked jobs for the applications page
	Filter      string        // status filter on the applications page
	FeedError   string
	IsOOB       bool // render stats badge as out-of-band swap
}

// newTemplateData creates a TemplateData with common fields populated from request
func (s *Server) newTemplateData(r *http.Request) TemplateData {
	return TemplateData{
		BaseURL:     s.baseURL,
		Hostname:    s.hostname,
		Theme:       s.getTheme(r),
		CurrentYear: s.now().Year(),
		AuthEnabled: s.passwordHash != "",
		Version:     shortVersion(s.version),
		FullVersion: s.version,
		Stats:       s.store.Stats(r.Context()),
		Statuses:    tracker.Statuses(),
	}
}

// loginLimiter limits login attempts per client ip
var loginLimiter = func() *limiter.Limiter {
	lmt := tollbooth.NewLimiter(5, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessage("Too many login attempts, try again later")
	return lmt
}()

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: store is required")
	}

	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}

	s := &Server{
		store:          cfg.Store,
		jobsProvider:   cfg.JobsProvider,
		events:         cfg.Events,
		pagesDir:       cfg.PagesDir,
		baseURL:        cfg.BaseURL,
		hostname:       cfg.Hostname,
		version:        cfg.Version,
		passwordHash:   cfg.PasswordHash,
		loginTTL:       loginTTL,
		csrfProtection: http.NewCrossOriginProtection(),
		sessions:       map[string]session{},
		now:            time.Now,
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates
	return s, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second, // cleared for event streams
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	go s.cleanupSessions(ctx)

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.baseURL, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.baseURL+"/", http.StatusMovedPermanently)
	})
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("jobtrack", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// must be set before any routes are defined
	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for web UI")
		router.Use(s.authMiddleware)
		router.HandleFunc("GET /login", s.handleLoginForm)
		router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
		router.HandleFunc("GET /logout", s.handleLogout)
	}

	router.HandleFunc("GET /{$}", s.handleBoard)
	router.HandleFunc("GET /tracker", s.handleTracker)
	router.HandleFunc("GET /export.csv", s.handleExport)
	if s.pagesDir != "" {
		router.HandleFunc("GET /pages/{path...}", s.handlePage)
	}

	// HTMX endpoints
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.Use(s.csrfProtection.Handler)

		api.HandleFunc("POST /jobs/{id}/track", s.handleTrack)
		api.HandleFunc("POST /jobs/{id}/status", s.handleStatus)
		api.HandleFunc("POST /jobs/{id}/notes", s.handleNotes)
		api.HandleFunc("POST /jobs/{id}/remove", s.handleRemove)
		api.HandleFunc("GET /jobs/{id}/widget", s.handleWidget)
		api.HandleFunc("GET /stats", s.handleStats)
		api.HandleFunc("POST /theme", s.handleThemeToggle)
	})

	// JSON API for programmatic access
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.Use(s.csrfProtection.Handler)

		api.HandleFunc("GET /jobs", s.handleAPIJobs)
		api.HandleFunc("POST /jobs", s.handleAPITrack)
		api.HandleFunc("GET /jobs/{id}", s.handleAPIJob)
		api.HandleFunc("PUT /jobs/{id}/status", s.handleAPIStatus)
		api.HandleFunc("PUT /jobs/{id}/notes", s.handleAPINotes)
		api.HandleFunc("DELETE /jobs/{id}", s.handleAPIRemove)
		api.HandleFunc("GET /stats", s.handleAPIStats)
		api.HandleFunc("GET /statuses", s.handleAPIStatuses)
		api.HandleFunc("GET /schema", s.handleAPISchema)
		api.HandleFunc("GET /events", s.handleAPIEvents)
	})

	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// render renders a template into a buffer first, so template errors don't produce partial pages
func (s *Server) render(w http.ResponseWriter, page, tmplName string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, tmplName, data); err != nil {
		log.Printf("[WARN] failed to execute template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses page templates, each page gets its own set with base layout and partials
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	funcMap := template.FuncMap{
		"url":        s.url,
		"pathEscape": url.PathEscape,
		"humanDate":  s.humanDate,
		"toJSON":     toJSON,
		"statusInfo": tracker.StatusInfo,
	}

	for _, page := range []string{"board", "tracker"} {
		tmpl, err := template.New("base.html").Funcs(funcMap).ParseFS(templatesFS,
			"templates/base.html", "templates/"+page+".html", "templates/partials/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", page, err)
		}
		templates[page] = tmpl
	}

	partials, err := template.New("widget.html").Funcs(funcMap).ParseFS(templatesFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}
	templates["partials"] = partials

	login, err := template.New("login.html").Funcs(funcMap).ParseFS(templatesFS, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse login template: %w", err)
	}
	templates["login"] = login

	return templates, nil
}

func (s *Server) getTheme(r *http.Request) enums.Theme {
	cookie, err := r.Cookie("theme")
	if err != nil {
		return enums.ThemeLight // default to light when no cookie
	}
	theme, err := enums.ParseTheme(cookie.Value)
	if err != nil {
		log.Printf("[WARN] invalid theme %q: %v", cookie.Value, err)
		return enums.ThemeLight
	}
	return theme
}

// template helper functions

func (s *Server) humanDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 2, 2006 15:04")
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// url prepends the base URL to a path for reverse proxy support
func (s *Server) url(path string) string {
	return s.baseURL + path
}

// cookiePath returns the cookie path with base URL support
func (s *Server) cookiePath() string {
	if s.baseURL == "" {
		return "/"
	}
	return s.baseURL + "/"
}

// shortVersion extracts a short version string from full version
// for version like "v1.7.0-abc1234-20241225", returns "v1.7.0"
func shortVersion(fullVer string) string {
	if fullVer == "" || fullVer == "unknown" {
		return fullVer
	}
	if idx := strings.Index(fullVer, "-"); idx > 0 {
		return fullVer[:idx]
	}
	return fullVer
}
