package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
)

// newGoliothTestServer serves a minimal slice of the Golioth API backed
// by the given device list.
func newGoliothTestServer(t *testing.T, devices []map[string]any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/projects/proj-1/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		page := 0
		if p := r.URL.Query().Get("page"); p == "1" {
			page = 1
		}
		perPage := 2
		start := page * perPage
		end := start + perPage
		if start > len(devices) {
			start = len(devices)
		}
		if end > len(devices) {
			end = len(devices)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"list":    devices[start:end],
			"total":   len(devices),
			"page":    page,
			"perPage": perPage,
		})
	})
	mux.HandleFunc("/v1/projects/proj-1/devices/d-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": devices[0]})
	})
	mux.HandleFunc("/v1/projects/proj-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "proj-1"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func goliothTestAdapter(t *testing.T, baseURL, apiKey string) *goliothAdapter {
	t.Helper()
	integ := &integration.Integration{
		ID:   "int-01",
		Type: integration.TypeGolioth,
		Settings: integration.Settings{
			"api_key":    apiKey,
			"project_id": "proj-1",
			"base_url":   baseURL,
		},
	}
	adapter, err := newGoliothAdapter(integ, http.DefaultClient)
	if err != nil {
		t.Fatalf("newGoliothAdapter: %v", err)
	}
	return adapter
}

func TestGoliothListDevices(t *testing.T) {
	devices := []map[string]any{
		{"id": "d-1", "name": "freezer-1", "status": "online", "data": map[string]any{"temp": 4.2}},
		{"id": "d-2", "name": "freezer-2", "status": "offline"},
		{"id": "d-3", "name": "freezer-3"},
	}
	srv := newGoliothTestServer(t, devices)
	adapter := goliothTestAdapter(t, srv.URL, "key-1")
	ctx := context.Background()

	t.Run("first page", func(t *testing.T) {
		page, err := adapter.ListDevices(ctx, ListOptions{PageSize: 2})
		if err != nil {
			t.Fatalf("ListDevices: %v", err)
		}
		if len(page.Records) != 2 {
			t.Fatalf("got %d records, want 2", len(page.Records))
		}
		if page.NextCursor != "1" {
			t.Errorf("NextCursor = %q, want 1", page.NextCursor)
		}
		if page.Records[0].Status != device.StatusOnline {
			t.Errorf("record 0 status = %q, want online", page.Records[0].Status)
		}
		if page.Records[1].Status != device.StatusOffline {
			t.Errorf("record 1 status = %q, want offline", page.Records[1].Status)
		}
		if page.Records[0].Shadow["temp"] != 4.2 {
			t.Errorf("record 0 shadow = %v", page.Records[0].Shadow)
		}
	})

	t.Run("last page", func(t *testing.T) {
		page, err := adapter.ListDevices(ctx, ListOptions{Cursor: "1", PageSize: 2})
		if err != nil {
			t.Fatalf("ListDevices: %v", err)
		}
		if len(page.Records) != 1 {
			t.Fatalf("got %d records, want 1", len(page.Records))
		}
		if page.NextCursor != "" {
			t.Errorf("NextCursor = %q, want empty", page.NextCursor)
		}
		if page.Records[0].Status != device.StatusUnknown {
			t.Errorf("record status = %q, want unknown", page.Records[0].Status)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		bad := goliothTestAdapter(t, srv.URL, "wrong-key")
		_, err := bad.ListDevices(ctx, ListOptions{})
		if !errors.Is(err, ErrAuth) {
			t.Errorf("expected ErrAuth, got: %v", err)
		}
	})
}

func TestGoliothGetDevice(t *testing.T) {
	devices := []map[string]any{
		{"id": "d-1", "name": "freezer-1", "status": "online"},
	}
	srv := newGoliothTestServer(t, devices)
	adapter := goliothTestAdapter(t, srv.URL, "key-1")
	ctx := context.Background()

	rec, err := adapter.GetDevice(ctx, "d-1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if rec.ExternalID != "d-1" || rec.Name != "freezer-1" {
		t.Errorf("record = %+v", rec)
	}

	_, err = adapter.GetDevice(ctx, "d-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestGoliothTestConnection(t *testing.T) {
	srv := newGoliothTestServer(t, nil)
	adapter := goliothTestAdapter(t, srv.URL, "key-1")

	if err := adapter.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection: %v", err)
	}
}

func TestGoliothUnreachable(t *testing.T) {
	adapter := goliothTestAdapter(t, "http://127.0.0.1:1", "key-1")

	_, err := adapter.ListDevices(context.Background(), ListOptions{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got: %v", err)
	}
}
