package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/scheduler"
	syncengine "github.com/netneural/sync-core/internal/sync"
)

// defaultRunListLimit bounds GET /sync/runs responses.
const defaultRunListLimit = 50

// triggerSyncRequest is the request body for POST /sync.
type triggerSyncRequest struct {
	OrganizationID     string   `json:"organization_id"`
	IntegrationID      string   `json:"integration_id"`
	Operation          string   `json:"operation"`
	ConflictResolution string   `json:"conflict_resolution,omitempty"`
	OnlyOnline         *bool    `json:"only_online,omitempty"`
	DeviceIDs          []string `json:"device_ids,omitempty"`
}

// triggerSyncResponse is the response body for POST /sync.
type triggerSyncResponse struct {
	Success bool                `json:"success"`
	Run     *syncengine.SyncRun `json:"run"`
}

// handleTriggerSync starts a sync run and blocks until it completes.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" || req.IntegrationID == "" {
		writeBadRequest(w, "organization_id and integration_id are required")
		return
	}

	integ, err := s.integrations.GetByID(r.Context(), req.IntegrationID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if integ.OrganizationID != req.OrganizationID {
		writeNotFound(w, "integration not found")
		return
	}

	// operation=test verifies credentials without starting a run. An
	// unreachable registry is the informative outcome here, not an error.
	if req.Operation == "test" {
		if testErr := s.engine.TestConnection(r.Context(), integ.ID); testErr != nil {
			if errors.Is(testErr, integration.ErrNotRegistry) {
				s.writeDomainError(w, testErr)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": testErr.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "connection ok",
		})
		return
	}

	runReq := syncengine.RunRequest{
		IntegrationID: req.IntegrationID,
		Operation:     syncengine.Operation(req.Operation),
		Policy:        integration.ConflictPolicy(req.ConflictResolution),
		OnlyOnline:    req.OnlyOnline,
	}
	if len(req.DeviceIDs) > 0 {
		runReq.Filter = &integration.DeviceFilter{ExternalIDs: req.DeviceIDs}
	}

	run, err := s.engine.Run(r.Context(), runReq)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// A failed run that processed nothing means the registry itself was
	// unreachable, which callers treat as a server-side failure.
	status := http.StatusOK
	if run.Status == syncengine.RunStatusFailed && run.Processed == 0 {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, triggerSyncResponse{
		Success: run.Status == syncengine.RunStatusSuccess || run.Status == syncengine.RunStatusPartial,
		Run:     run,
	})
}

// syncConfigRequest is the request body for POST /sync-config.
type syncConfigRequest struct {
	OrganizationID string                   `json:"organization_id"`
	IntegrationID  string                   `json:"integration_id"`
	Config         integration.SyncSettings `json:"config"`
}

// handleSyncConfig updates an integration's auto-sync settings and its
// schedule row in one step, so the scheduler picks the change up on the
// next poll.
func (s *Server) handleSyncConfig(w http.ResponseWriter, r *http.Request) {
	var req syncConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" || req.IntegrationID == "" {
		writeBadRequest(w, "organization_id and integration_id are required")
		return
	}

	integ, err := s.integrations.GetByID(r.Context(), req.IntegrationID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if integ.OrganizationID != req.OrganizationID {
		writeNotFound(w, "integration not found")
		return
	}
	if !integ.Type.IsRegistry() {
		s.writeDomainError(w, integration.ErrNotRegistry)
		return
	}

	if err := integration.ValidateSyncSettings(&req.Config); err != nil {
		s.writeDomainError(w, err)
		return
	}

	integ.Sync = req.Config
	if err := s.integrations.Update(r.Context(), integ); err != nil {
		s.writeDomainError(w, err)
		return
	}

	schedule := &scheduler.Schedule{
		IntegrationID:      integ.ID,
		OrganizationID:     integ.OrganizationID,
		Enabled:            req.Config.Enabled,
		FrequencyMinutes:   req.Config.FrequencyMinutes,
		Direction:          req.Config.Direction,
		ConflictResolution: req.Config.ConflictResolution,
		OnlyOnline:         req.Config.OnlyOnline,
		DeviceFilter:       req.Config.DeviceFilter,
	}
	if err := s.schedules.Upsert(r.Context(), schedule); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, schedule)
}

// handleListRuns returns the most recent runs for an integration.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	integrationID := r.URL.Query().Get("integration_id")
	if integrationID == "" {
		writeBadRequest(w, "integration_id query parameter is required")
		return
	}

	runs, err := s.runs.ListByIntegration(r.Context(), integrationID, defaultRunListLimit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns a single run with any nested phase runs.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
