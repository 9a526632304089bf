package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/jobtrack/app/enums"
)

const (
	authCookie    = "jobtrack-auth"
	basicAuthUser = "jobtrack"
)

// handleLoginForm displays the login form
func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, http.StatusOK, "")
}

// handleLogin processes the login form submission
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	password := r.FormValue("password")
	if password == "" {
		s.renderLogin(w, r, http.StatusUnauthorized, "Password is required")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		log.Printf("[WARN] failed login attempt from %s", r.RemoteAddr)
		s.renderLogin(w, r, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := s.newSession()
	if err != nil {
		log.Printf("[ERROR] failed to create session: %v", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     s.cookiePath(),
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	http.Redirect(w, r, s.url("/"), http.StatusSeeOther)
}

// handleLogout drops the session and clears the auth cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(authCookie); err == nil {
		s.sessionsMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionsMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     s.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})

	// tell HTMX to perform a full page refresh instead of swapping content
	w.Header().Set("HX-Refresh", "true")
	http.Redirect(w, r, s.url("/login"), http.StatusSeeOther)
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, code int, errorMsg string) {
	tmpl := s.templates["login"]
	if tmpl == nil {
		log.Printf("[ERROR] login template not found in templates map")
		http.Error(w, "Login template not found", http.StatusInternalServerError)
		return
	}

	data := struct {
		Error   string
		Theme   enums.Theme
		BaseURL string
	}{
		Error:   errorMsg,
		Theme:   s.getTheme(r),
		BaseURL: s.baseURL,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	if err := tmpl.Execute(w, data); err != nil {
		log.Printf("[ERROR] failed to render login template: %v", err)
	}
}

// authMiddleware checks for session cookie or falls back to basic auth
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// skip auth for login page, static resources and ping
		if r.URL.Path == "/login" || r.URL.Path == "/ping" || strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(authCookie); err == nil && s.validSession(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		// fallback to basic auth for API clients
		if username, password, ok := r.BasicAuth(); ok && username == basicAuthUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		accept := r.Header.Get("Accept")
		if r.Header.Get("HX-Request") != "true" && (accept == "" || strings.Contains(accept, "text/html")) {
			http.Redirect(w, r, s.url("/login"), http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="jobtrack"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// newSession makes a random session token
func (s *Server) newSession() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[token] = session{token: token, createdAt: s.now()}
	return token, nil
}

// validSession checks the token belongs to a session not older than loginTTL
func (s *Server) validSession(token string) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	if s.now().Sub(sess.createdAt) > s.loginTTL {
		delete(s.sessions, token)
		return false
	}
	return true
}

// cleanupSessions periodically removes expired sessions
func (s *Server) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dropExpiredSessions()
		}
	}
}

func (s *Server) dropExpiredSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for token, sess := range s.sessions {
		if s.now().Sub(sess.createdAt) > s.loginTTL {
			delete(s.sessions, token)
		}
	}
}
