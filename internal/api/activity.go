package api

import (
	"net/http"

	"github.com/netneural/sync-core/internal/activity"
)

// handleListActivity returns activity log entries, most recent first.
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	organizationID := q.Get("organization_id")
	if organizationID == "" {
		writeBadRequest(w, "organization_id query parameter is required")
		return
	}

	result, err := s.activity.List(r.Context(), activity.Filter{
		OrganizationID: organizationID,
		IntegrationID:  q.Get("integration_id"),
		Type:           q.Get("type"),
		Status:         q.Get("status"),
		Limit:          queryInt(r, "limit", 0),
		Offset:         queryInt(r, "offset", 0),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
