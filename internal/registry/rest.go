package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a vendor error response gets read for
// inclusion in error messages.
const maxErrorBody = 2048

// restClient is the shared HTTP plumbing for REST registry adapters.
// Each adapter supplies its base URL and an auth hook that decorates the
// outgoing request (API key header, SAS token, SigV4 signature).
type restClient struct {
	base  string
	httpc *http.Client
	auth  func(req *http.Request) error
}

// doJSON performs a request with a JSON body and decodes a JSON response.
// body and out may be nil. Vendor status codes are normalised onto the
// package sentinels.
func (c *restClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		if err := c.auth(req); err != nil {
			return err
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// checkStatus maps HTTP status codes onto the package sentinels.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuth, resp.StatusCode, snippet)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP 429: %s", ErrRateLimited, snippet)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	default:
		return fmt.Errorf("registry: HTTP %d: %s", resp.StatusCode, snippet)
	}
}
