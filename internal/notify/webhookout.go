package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/webhook"
)

// WebhookTransport posts the payload to a customer endpoint, optionally
// signing the body the same way inbound webhooks are verified.
//
// Settings: url (required), secret (optional HMAC signing key).
type WebhookTransport struct {
	httpc *http.Client
}

// NewWebhookTransport creates a generic webhook transport.
func NewWebhookTransport(httpc *http.Client) *WebhookTransport {
	return &WebhookTransport{httpc: httpc}
}

func (t *WebhookTransport) Deliver(ctx context.Context, d *Delivery, settings integration.Settings) (int, error) {
	url := settings.String("url")
	if url == "" {
		return 0, fmt.Errorf("%w: webhook needs url", ErrTransportConfig)
	}

	body := map[string]any{
		"subject": d.Subject,
		"payload": d.Payload,
	}

	headers := map[string]string{}
	if secret := settings.String("secret"); secret != "" {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		headers["X-Webhook-Signature"] = webhook.Sign(secret, raw)
	}

	return postJSON(ctx, t.httpc, url, headers, body)
}
