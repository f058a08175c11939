package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/netneural/sync-core/internal/notify"
)

// defaultDeliveryListLimit bounds GET /notifications responses.
const defaultDeliveryListLimit = 50

// sendNotificationRequest is the request body for POST /notifications.
type sendNotificationRequest struct {
	OrganizationID string         `json:"organization_id"`
	IntegrationID  *string        `json:"integration_id,omitempty"`
	Channel        string         `json:"channel"`
	Recipients     []string       `json:"recipients,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	CooldownKey    string         `json:"cooldown_key,omitempty"`
}

// handleSendNotification dispatches a notification delivery.
func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload := req.Data
	if payload == nil {
		payload = map[string]any{}
	}
	if req.Message != "" {
		payload["message"] = req.Message
	}

	delivery, err := s.dispatcher.Send(r.Context(), notify.SendRequest{
		OrganizationID: req.OrganizationID,
		IntegrationID:  req.IntegrationID,
		Channel:        notify.Channel(req.Channel),
		Recipients:     req.Recipients,
		Subject:        req.Subject,
		Payload:        payload,
		CooldownKey:    req.CooldownKey,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, delivery)
}

// handleRetryNotification re-attempts a failed or timed-out delivery.
func (s *Server) handleRetryNotification(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.dispatcher.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

// handleListNotifications returns an organization's delivery history,
// newest first.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		writeBadRequest(w, "organization_id query parameter is required")
		return
	}

	limit := queryInt(r, "limit", defaultDeliveryListLimit)
	offset := queryInt(r, "offset", 0)

	deliveries, err := s.deliveries.List(r.Context(), organizationID, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// queryInt parses an integer query parameter, falling back to a default.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
