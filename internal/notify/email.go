package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/netneural/sync-core/internal/integration"
)

const defaultEmailBaseURL = "https://api.resend.com"

// EmailTransport sends mail through a Resend-style HTTP API.
//
// Settings: api_key (required), from (required), base_url (optional).
type EmailTransport struct {
	httpc *http.Client
}

// NewEmailTransport creates an email transport.
func NewEmailTransport(httpc *http.Client) *EmailTransport {
	return &EmailTransport{httpc: httpc}
}

func (t *EmailTransport) Deliver(ctx context.Context, d *Delivery, settings integration.Settings) (int, error) {
	apiKey := settings.String("api_key")
	from := settings.String("from")
	if apiKey == "" || from == "" {
		return 0, fmt.Errorf("%w: email needs api_key and from", ErrTransportConfig)
	}
	if len(d.Recipients) == 0 {
		return 0, fmt.Errorf("%w: email needs recipients", ErrInvalid)
	}

	base := settings.String("base_url")
	if base == "" {
		base = defaultEmailBaseURL
	}

	body := map[string]any{
		"from":    from,
		"to":      d.Recipients,
		"subject": d.Subject,
		"text":    message(d),
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	return postJSON(ctx, t.httpc, base+"/emails", headers, body)
}
