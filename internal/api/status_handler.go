// File path: internal/api/status_handler.go
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/oolong-labs/teaqa/internal/common"
)

// handleStatus summarizes backend availability and embedding state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"store_available": s.store.Available(),
		"store_dimension": s.store.Dimension(),
	}
	if s.provider != nil {
		status["llm_provider"] = s.provider.Name()
	}
	if s.chain != nil {
		status["embedding_provider"] = s.chain.ActiveProvider()
		status["embedding_dimension"] = s.chain.ActiveDimension()
		status["needs_reembedding"] = s.chain.NeedsReembedding()
	}
	if s.graph != nil {
		status["graph_entities"] = s.graph.EntityCount()
		status["graph_edges"] = s.graph.EdgeCount()
		status["graph_stale"] = s.graph.Stale()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleLogs returns the recent in-process log tail.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries := common.LogEntries()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleGraphRebuild recomputes entity communities. Queries issued during
// the rebuild fall back to hybrid retrieval instead of blocking.
func (s *Server) handleGraphRebuild(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("graph retrieval not configured"))
		return
	}
	communities, err := s.graph.RebuildCommunities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"communities": len(communities)})
}

// handleCommunities lists the current community partition, optionally with
// lazily generated summaries.
func (s *Server) handleCommunities(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("graph retrieval not configured"))
		return
	}
	communities := s.graph.Communities()
	withSummaries := r.URL.Query().Get("summaries") == "true"
	payload := make([]map[string]interface{}, 0, len(communities))
	for _, community := range communities {
		entry := map[string]interface{}{
			"id":       community.ID,
			"entities": community.Entities,
			"chunks":   len(community.Chunks),
		}
		if withSummaries {
			summary, err := s.graph.CommunitySummary(r.Context(), community.ID)
			if err != nil {
				common.Logger().Warn("api: community summary failed", "community", community.ID, "error", err)
			} else {
				entry["summary"] = summary
			}
		}
		payload = append(payload, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"communities": payload})
}
