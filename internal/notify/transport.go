package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/netneural/sync-core/internal/integration"
)

// Transport delivers a notification over one channel.
//
// Deliver returns the transport's response code (0 when the request
// never reached the remote) and an error for anything but success.
type Transport interface {
	Deliver(ctx context.Context, d *Delivery, settings integration.Settings) (int, error)
}

// postJSON sends a JSON body and reports the response code. Responses
// outside 2xx are errors carrying a bounded excerpt of the body.
func postJSON(ctx context.Context, httpc *http.Client, url string, headers map[string]string, body any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("remote returned %d: %s", resp.StatusCode, excerpt)
	}
	return resp.StatusCode, nil
}

// message renders the human-readable body of a delivery.
func message(d *Delivery) string {
	if m, ok := d.Payload["message"].(string); ok && m != "" {
		return m
	}
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return d.Subject
	}
	return string(data)
}
