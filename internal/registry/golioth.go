package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
)

const (
	goliothDefaultBase = "https://api.golioth.io"
	goliothPageSize    = 100
)

// goliothAdapter talks to the Golioth management REST API.
//
// Required settings: api_key, project_id. Optional: base_url.
type goliothAdapter struct {
	rest      *restClient
	projectID string
}

func newGoliothAdapter(integ *integration.Integration, httpc *http.Client) (*goliothAdapter, error) {
	apiKey := integ.Settings.String("api_key")
	projectID := integ.Settings.String("project_id")
	if apiKey == "" || projectID == "" {
		return nil, fmt.Errorf("%w: golioth requires api_key and project_id", ErrConfig)
	}

	base := integ.Settings.String("base_url")
	if base == "" {
		base = goliothDefaultBase
	}

	return &goliothAdapter{
		rest: &restClient{
			base:  base,
			httpc: httpc,
			auth: func(req *http.Request) error {
				req.Header.Set("Authorization", "Bearer "+apiKey)
				return nil
			},
		},
		projectID: projectID,
	}, nil
}

// goliothDevice is the wire shape of a Golioth device record.
type goliothDevice struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	HardwareIDs []string `json:"hardwareIds"`
	Status      string   `json:"status"`
	Metadata    struct {
		Status         string     `json:"status"`
		LastSeenOnline *time.Time `json:"lastSeenOnline"`
		Update         struct {
			Firmware map[string]struct {
				Version string `json:"version"`
			} `json:"firmware"`
		} `json:"update"`
	} `json:"metadata"`
	Data      map[string]any `json:"data"`
	UpdatedAt *time.Time     `json:"updatedAt"`
}

func (g *goliothAdapter) devicesPath() string {
	return "/v1/projects/" + url.PathEscape(g.projectID) + "/devices"
}

// ListDevices returns one page of the Golioth device catalogue.
// The cursor is the zero-based page number.
func (g *goliothAdapter) ListDevices(ctx context.Context, opts ListOptions) (*Page, error) {
	page := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cursor %q", ErrConfig, opts.Cursor)
		}
		page = n
	}
	perPage := opts.PageSize
	if perPage <= 0 {
		perPage = goliothPageSize
	}

	var resp struct {
		List    []goliothDevice `json:"list"`
		Total   int             `json:"total"`
		Page    int             `json:"page"`
		PerPage int             `json:"perPage"`
	}
	path := fmt.Sprintf("%s?page=%d&perPage=%d", g.devicesPath(), page, perPage)
	if err := g.rest.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("golioth list devices: %w", err)
	}

	result := &Page{Records: make([]Record, 0, len(resp.List))}
	for i := range resp.List {
		result.Records = append(result.Records, goliothToRecord(&resp.List[i]))
	}
	if (page+1)*perPage < resp.Total {
		result.NextCursor = strconv.Itoa(page + 1)
	}
	return result, nil
}

// GetDevice returns a single Golioth device.
func (g *goliothAdapter) GetDevice(ctx context.Context, externalID string) (*Record, error) {
	var resp struct {
		Data goliothDevice `json:"data"`
	}
	path := g.devicesPath() + "/" + url.PathEscape(externalID)
	if err := g.rest.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("golioth get device: %w", err)
	}
	rec := goliothToRecord(&resp.Data)
	return &rec, nil
}

// UpsertDevice creates or renames a Golioth device.
func (g *goliothAdapter) UpsertDevice(ctx context.Context, rec *Record) error {
	body := map[string]any{"name": rec.Name}
	path := g.devicesPath() + "/" + url.PathEscape(rec.ExternalID)

	err := g.rest.doJSON(ctx, http.MethodPatch, path, body, nil)
	if errors.Is(err, ErrNotFound) {
		body["hardwareIds"] = []string{rec.ExternalID}
		if err := g.rest.doJSON(ctx, http.MethodPost, g.devicesPath(), body, nil); err != nil {
			return fmt.Errorf("golioth create device: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("golioth update device: %w", err)
	}
	return nil
}

// UpdateShadow replaces the device state document.
func (g *goliothAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	path := g.devicesPath() + "/" + url.PathEscape(externalID) + "/state"
	if err := g.rest.doJSON(ctx, http.MethodPut, path, shadow, nil); err != nil {
		return fmt.Errorf("golioth update shadow: %w", err)
	}
	return nil
}

// TestConnection verifies the project is accessible with the configured key.
func (g *goliothAdapter) TestConnection(ctx context.Context) error {
	path := "/v1/projects/" + url.PathEscape(g.projectID)
	if err := g.rest.doJSON(ctx, http.MethodGet, path, nil, nil); err != nil {
		return fmt.Errorf("golioth test connection: %w", err)
	}
	return nil
}

// goliothToRecord normalises a Golioth device onto the local vocabulary.
func goliothToRecord(d *goliothDevice) Record {
	rec := Record{
		ExternalID: d.ID,
		Name:       d.Name,
		Status:     device.StatusUnknown,
		Shadow:     d.Data,
	}

	switch {
	case d.Status == "online" || d.Metadata.Status == "online":
		rec.Status = device.StatusOnline
	case d.Status == "offline" || d.Metadata.Status == "offline":
		rec.Status = device.StatusOffline
	}

	for _, fw := range d.Metadata.Update.Firmware {
		if fw.Version != "" {
			v := fw.Version
			rec.FirmwareVersion = &v
			break
		}
	}

	if d.UpdatedAt != nil {
		rec.UpdatedAt = d.UpdatedAt.UTC()
	}
	return rec
}
