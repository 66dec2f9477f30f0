// File path: internal/api/sources_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/store"
)

// handleListSources reports the catalog of ingested documents.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sources": []interface{}{}})
		return
	}
	sources, err := s.catalog.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

// handleDeleteSource cascades a source deletion through the store, catalog,
// graph, and result cache. A failed verification recount surfaces as a 500
// so the caller knows chunks remain.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if decoded, err := url.PathUnescape(source); err == nil {
		source = decoded
	}
	if strings.TrimSpace(source) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source required"))
		return
	}
	removed, err := s.pipeline.DeleteSource(r.Context(), source)
	if err != nil {
		var verification *store.DeletionVerificationError
		if errors.As(err, &verification) {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   verification.Error(),
				"removed": removed,
			})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}
	common.Logger().Info("api: source deleted", "source", source, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]interface{}{"source": source, "removed": removed})
}
