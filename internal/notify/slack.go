package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/netneural/sync-core/internal/integration"
)

// SlackTransport posts to a Slack incoming webhook.
//
// Settings: webhook_url (required), channel (optional override).
type SlackTransport struct {
	httpc *http.Client
}

// NewSlackTransport creates a Slack transport.
func NewSlackTransport(httpc *http.Client) *SlackTransport {
	return &SlackTransport{httpc: httpc}
}

func (t *SlackTransport) Deliver(ctx context.Context, d *Delivery, settings integration.Settings) (int, error) {
	url := settings.String("webhook_url")
	if url == "" {
		return 0, fmt.Errorf("%w: slack needs webhook_url", ErrTransportConfig)
	}

	text := message(d)
	if d.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", d.Subject, text)
	}

	body := map[string]any{"text": text}
	if channel := settings.String("channel"); channel != "" {
		body["channel"] = channel
	}

	return postJSON(ctx, t.httpc, url, nil, body)
}
