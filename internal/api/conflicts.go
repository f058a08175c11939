package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	syncengine "github.com/netneural/sync-core/internal/sync"
)

// resolveConflictRequest is the request body for POST /conflicts/{id}/resolve.
type resolveConflictRequest struct {
	Choice     string `json:"choice"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// handleListConflicts returns pending conflicts for an integration,
// oldest first.
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	integrationID := r.URL.Query().Get("integration_id")
	if integrationID == "" {
		writeBadRequest(w, "integration_id query parameter is required")
		return
	}

	conflicts, err := s.conflicts.ListPending(r.Context(), integrationID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

// handleResolveConflict applies a manual conflict choice.
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Choice == "" {
		writeBadRequest(w, "choice is required")
		return
	}

	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "api"
	}

	conflict, err := s.engine.ResolveConflict(r.Context(), chi.URLParam(r, "id"),
		syncengine.ConflictResolution(req.Choice), resolvedBy)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conflict)
}
