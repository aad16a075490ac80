package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is the control plane for launching and inspecting indexing runs:
// it exposes the job lifecycle HTTP routes and holds the in-memory registry
// of jobs this process has started.
type Server struct {
	mux  *http.ServeMux
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// jobEntry tracks one supervisor.Start invocation: its reported status plus
// the cancel func that lets DELETE /indexing-jobs/{id} stop it mid-run.
type jobEntry struct {
	status *JobStatus
	cancel context.CancelFunc
}

// NewServer builds a control-plane server with request logging and panic
// recovery wrapped around the job routes.
func NewServer() *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		jobs: make(map[string]*jobEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/indexing-jobs", s.handleJobs)      // POST /indexing-jobs
	s.mux.HandleFunc("/indexing-jobs/", s.handleJobByID)  // GET/DELETE /indexing-jobs/{id}
}

// Run starts the HTTP server on the provided port, blocking until it exits.
func (s *Server) Run(port string) error {
	addr := fmt.Sprintf(":%s", port)
	handler := s.recoveryMiddleware(s.loggingMiddleware(s.mux))
	logrus.WithField("addr", addr).Info("indexing control plane listening")
	return http.ListenAndServe(addr, handler)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	active := len(s.jobs)
	s.mu.RUnlock()
	fmt.Fprintf(w, `{"status":"ok","jobs_tracked":%d}`, active)
}

// loggingMiddleware logs method, path and wall-clock duration for every request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("handled request")
	})
}

// recoveryMiddleware catches panics from a job handler and returns 500
// instead of taking down the whole control plane.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.WithField("panic", rec).Error("recovered from panic handling request")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
