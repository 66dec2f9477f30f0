// File path: internal/api/query_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/orchestrator"
)

type queryRequest struct {
	Question string              `json:"question"`
	History  []orchestrator.Turn `json:"history,omitempty"`
	Mode     string              `json:"mode,omitempty"`
}

// handleQuery runs the full retrieve-then-generate flow.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode query request: %w", err))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("question required"))
		return
	}
	mode, err := fusion.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	common.Logger().Info("api: query request", "mode", mode, "history_turns", len(req.History))
	result, err := s.orchestrator.Answer(r.Context(), req.Question, req.History, mode)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query  string `json:"query"`
	Mode   string `json:"mode,omitempty"`
	K      int    `json:"k,omitempty"`
	Budget int    `json:"budget,omitempty"`
}

// handleSearch exposes raw retrieval without generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode search request: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query required"))
		return
	}
	mode, err := fusion.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.engine.Retrieve(r.Context(), req.Query, mode, req.K, req.Budget)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
