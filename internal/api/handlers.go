package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"etl-web3/internal/bootstrap"
	"etl-web3/internal/config"
	"etl-web3/internal/core/supervisor"
	"etl-web3/internal/sink"
)

// handleJobs multiplexes POST /indexing-jobs; no other verb is defined on
// the collection.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitIndexingJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID routes GET and DELETE for a single job ID under
// /indexing-jobs/{id}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/indexing-jobs/")
	if id == "" {
		http.Error(w, "job id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getIndexingJob(w, r, id)
	case http.MethodDelete:
		s.cancelIndexingJob(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// submitIndexingJob handles POST /indexing-jobs: validates the manifest
// shape, assigns a job ID, and launches the run in the background.
func (s *Server) submitIndexingJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.RPCURL == "" {
		http.Error(w, "rpc_url is required", http.StatusBadRequest)
		return
	}
	if len(req.Contracts) == 0 {
		http.Error(w, "at least one contract must be provided", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()

	status := &JobStatus{
		JobID:     jobID,
		Status:    "queued",
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[jobID] = &jobEntry{status: status}
	s.mu.Unlock()

	go s.runIndexingJob(jobID, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(JobResponse{JobID: jobID})
}

// runIndexingJob turns the request into a Config, wires the callback
// registry through bootstrap.Build, and drives it with the supervisor
// until completion, a fatal error, or cancellation via DELETE.
func (s *Server) runIndexingJob(jobID string, req JobRequest) {
	s.mu.Lock()
	entry := s.jobs[jobID]
	if entry == nil {
		entry = &jobEntry{status: &JobStatus{JobID: jobID}}
		s.jobs[jobID] = entry
	}
	entry.status.Status = "running"
	s.mu.Unlock()

	cfg, err := buildConfigFromRequest(req)
	if err != nil {
		s.markJobError(jobID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel

	var sk sink.Sink
	switch cfg.Storage.Type {
	case "csv":
		sk, err = sink.NewCSVSink(cfg.Storage.CSV.OutputDir)
		if err != nil {
			s.markJobError(jobID, err)
			return
		}
	case "mysql":
		s.markJobError(jobID, fmt.Errorf("mysql sink not implemented"))
		return
	default:
		s.markJobError(jobID, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type))
		return
	}
	sk = sink.NewRetrySink(sk, cfg.Retry.Attempts, cfg.Retry.DelayMS)

	reg, settings, err := bootstrap.Build(ctx, cfg, sk)
	if err != nil {
		s.markJobError(jobID, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"job_id":         jobID,
		"subscriptions":  len(reg.Subscriptions()),
		"max_concurrency": settings.Concurrent.MaxConcurrency,
	}).Info("indexing job wired, starting supervisor")

	if err := supervisor.Start(ctx, reg, settings); err != nil {
		s.markJobError(jobID, err)
		return
	}

	s.mu.Lock()
	entry.status.Status = "finished"
	finished := time.Now()
	entry.status.FinishedAt = &finished
	s.mu.Unlock()
}

// getIndexingJob handles GET /indexing-jobs/{id}.
func (s *Server) getIndexingJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry.status)
}

// cancelIndexingJob handles DELETE /indexing-jobs/{id}: cancels the job's
// context, which unwinds every in-flight runner at its next suspension
// point, and marks the job cancelled.
func (s *Server) cancelIndexingJob(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	if entry.cancel != nil {
		entry.cancel()
	}

	s.mu.Lock()
	entry.status.Status = "cancelled"
	finished := time.Now()
	entry.status.FinishedAt = &finished
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// markJobError records a terminal error against a job's status.
func (s *Server) markJobError(jobID string, err error) {
	logrus.WithField("job_id", jobID).Errorf("indexing job failed: %v", err)
	s.mu.Lock()
	if entry, ok := s.jobs[jobID]; ok {
		entry.status.Status = "error"
		entry.status.Error = err.Error()
		finished := time.Now()
		entry.status.FinishedAt = &finished
	}
	s.mu.Unlock()
}

// buildConfigFromRequest converts the HTTP request into a validated
// *config.Config, reusing config.ApplyDefaultsAndValidate so the job API and
// the file-based manifest loader can never silently diverge on defaults.
func buildConfigFromRequest(req JobRequest) (*config.Config, error) {
	cfg := &config.Config{
		RPCURL:                  req.RPCURL,
		Contracts:               req.Contracts,
		Storage:                 req.Storage,
		Retry:                   req.Retry,
		Concurrency:             req.Concurrency,
		MaxBlockRange:           req.MaxBlockRange,
		ExecuteInEventOrder:     req.ExecuteInEventOrder,
		ExecuteEventLogsInOrder: req.ExecuteEventLogsInOrder,
	}

	if err := cfg.ApplyDefaultsAndValidate(""); err != nil {
		return nil, err
	}

	return cfg, nil
}
