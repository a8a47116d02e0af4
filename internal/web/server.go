// Package web provides an HTTP status server for the pumpsync daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/status"
)

const (
	defaultWindow = 24 * time.Hour
	defaultLimit  = 100
	maxLimit      = 1000
	pageDoses     = 20
)

// DoseSource returns stored doses, newest first.
type DoseSource interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]logic.DoseEntry, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	doses      DoseSource
	now        func() time.Time
}

// New creates a Server that reads state from the given tracker. doses may
// be nil, in which case /doses.json serves an empty list.
func New(addr string, tracker *status.Tracker, doses DoseSource) *Server {
	s := &Server{tracker: tracker, doses: doses, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/doses.json", s.handleDoses)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) recent(ctx context.Context, window time.Duration, limit int) ([]logic.DoseEntry, error) {
	if s.doses == nil {
		return nil, nil
	}
	return s.doses.Recent(ctx, s.now().Add(-window), limit)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	doses, err := s.recent(r.Context(), defaultWindow, pageDoses)
	if err != nil {
		log.Warnf("index: recent doses: %v", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, doses)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleDoses serves ?hours=N (default 24) and ?limit=N (default 100).
func (s *Server) handleDoses(w http.ResponseWriter, r *http.Request) {
	window := defaultWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		window = time.Duration(h) * time.Hour
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}

	doses, err := s.recent(r.Context(), window, limit)
	if err != nil {
		log.Errorf("doses.json: %v", err)
		http.Error(w, "dose store unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatDoses(doses))
}
