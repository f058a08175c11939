package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// signatureHeader carries the HMAC-SHA256 signature of the webhook body.
const signatureHeader = "X-Webhook-Signature"

// handleWebhookIngest verifies and applies an inbound registry webhook.
// Replays of already-processed events return 200 with deduped set, so
// registry retries stay idempotent.
func (s *Server) handleWebhookIngest(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integration_id")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		writeUnauthorized(w, signatureHeader+" header is required")
		return
	}

	// Ingestion gets its own deadline, independent of any sync run
	// deadline. Registries retry on timeout and dedupe keeps that safe.
	ctx := r.Context()
	if s.webhookCfg.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.webhookCfg.Timeout())
		defer cancel()
	}

	result, err := s.ingestor.Ingest(ctx, integrationID, raw, signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
