// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/oolong-labs/teaqa/internal/catalog"
	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/embed"
	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/graphrag"
	"github.com/oolong-labs/teaqa/internal/ingest"
	"github.com/oolong-labs/teaqa/internal/llm"
	"github.com/oolong-labs/teaqa/internal/orchestrator"
	"github.com/oolong-labs/teaqa/internal/store"
)

// Server exposes the retrieval service over HTTP.
type Server struct {
	router       chi.Router
	pipeline     *ingest.Pipeline
	engine       *fusion.Engine
	orchestrator *orchestrator.Orchestrator
	chain        *embed.Chain
	store        store.Store
	catalog      *catalog.Store
	graph        *graphrag.Graph
	provider     llm.Provider

	jobs *jobRegistry
}

// Deps carries the wired components the server serves. Catalog and graph
// are optional; their endpoints degrade gracefully when absent.
type Deps struct {
	Pipeline     *ingest.Pipeline
	Engine       *fusion.Engine
	Orchestrator *orchestrator.Orchestrator
	Chain        *embed.Chain
	Store        store.Store
	Catalog      *catalog.Store
	Graph        *graphrag.Graph
	Provider     llm.Provider
}

// NewServer builds the router over the provided components.
func NewServer(deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Engine == nil || deps.Orchestrator == nil || deps.Store == nil {
		return nil, errors.New("api: pipeline, engine, orchestrator, and store are required")
	}
	srv := &Server{
		router:       chi.NewRouter(),
		pipeline:     deps.Pipeline,
		engine:       deps.Engine,
		orchestrator: deps.Orchestrator,
		chain:        deps.Chain,
		store:        deps.Store,
		catalog:      deps.Catalog,
		graph:        deps.Graph,
		provider:     deps.Provider,
		jobs:         newJobRegistry(),
	}
	srv.routes()
	common.Logger().Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/api/ingest", s.handleIngest)
	s.router.Get("/api/ingest/jobs/{id}", s.handleIngestJob)
	s.router.Post("/api/query", s.handleQuery)
	s.router.Post("/api/search", s.handleSearch)
	s.router.Get("/api/sources", s.handleListSources)
	s.router.Delete("/api/sources/{source}", s.handleDeleteSource)
	s.router.Post("/api/graph/rebuild", s.handleGraphRebuild)
	s.router.Get("/api/graph/communities", s.handleCommunities)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/logs", s.handleLogs)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps retrieval-layer failures onto HTTP statuses.
func statusForError(err error) int {
	var mismatch *store.DimensionMismatchError
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, embed.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &mismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
