// File path: internal/api/ingest_handler.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/ingest"
)

const (
	jobStatusRunning   = "running"
	jobStatusCompleted = "completed"
	jobStatusFailed    = "failed"
)

// ingestJob tracks one asynchronous ingestion request.
type ingestJob struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Reports   []ingest.Report `json:"reports,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

type jobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]ingestJob
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]ingestJob)}
}

func (r *jobRegistry) put(job ingestJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *jobRegistry) get(id string) (ingestJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

type ingestRequest struct {
	Documents []ingest.Document `json:"documents"`
}

// handleIngest accepts a batch of documents and processes them in the
// background, returning a job id for polling.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode ingest request: %w", err))
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no documents provided"))
		return
	}
	for i, doc := range req.Documents {
		if doc.Source == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("document %d: source required", i))
			return
		}
	}

	job := ingestJob{ID: uuid.NewString(), Status: jobStatusRunning, StartedAt: time.Now().UTC()}
	s.jobs.put(job)
	common.Logger().Info("api: ingest job accepted", "job", job.ID, "documents", len(req.Documents))

	docs := req.Documents
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		reports, err := s.pipeline.IngestAll(ctx, docs)
		ended := time.Now().UTC()
		job.Reports = reports
		job.EndedAt = &ended
		if err != nil {
			job.Status = jobStatusFailed
			job.Error = err.Error()
		} else {
			job.Status = jobStatusCompleted
		}
		s.jobs.put(job)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleIngestJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}
