package registry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	azureAPIVersion  = "2021-04-12"
	azureSASLifetime = time.Hour
	azureListTop     = 1000
)

// azureIoTAdapter talks to Azure IoT Hub's registry REST API using
// shared access signature tokens.
//
// Required settings: host (myhub.azure-devices.net), policy_name,
// policy_key (base64).
type azureIoTAdapter struct {
	rest *restClient
	host string
}

func newAzureIoTAdapter(integ *integration.Integration, httpc *http.Client) (*azureIoTAdapter, error) {
	host := integ.Settings.String("host")
	policyName := integ.Settings.String("policy_name")
	policyKey := integ.Settings.String("policy_key")
	if host == "" || policyName == "" || policyKey == "" {
		return nil, fmt.Errorf("%w: azure_iot requires host, policy_name and policy_key", ErrConfig)
	}

	key, err := base64.StdEncoding.DecodeString(policyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: policy_key is not valid base64", ErrConfig)
	}

	return &azureIoTAdapter{
		host: host,
		rest: &restClient{
			base:  "https://" + host,
			httpc: httpc,
			auth: func(req *http.Request) error {
				token := azureSASToken(host, policyName, key, time.Now().Add(azureSASLifetime))
				req.Header.Set("Authorization", token)
				return nil
			},
		},
	}, nil
}

// azureSASToken builds a SharedAccessSignature for the hub-level policy.
func azureSASToken(resource, policyName string, key []byte, expiry time.Time) string {
	encodedResource := url.QueryEscape(resource)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(encodedResource + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		encodedResource, url.QueryEscape(sig), se, policyName)
}

// azureDevice is the wire shape of an IoT Hub device identity.
type azureDevice struct {
	DeviceID         string `json:"deviceId"`
	Status           string `json:"status"`
	ConnectionState  string `json:"connectionState"`
	LastActivityTime string `json:"lastActivityTime"`
}

// azureTwin is the wire shape of a device twin.
type azureTwin struct {
	DeviceID   string         `json:"deviceId"`
	Tags       map[string]any `json:"tags"`
	Properties struct {
		Reported map[string]any `json:"reported"`
	} `json:"properties"`
}

// ListDevices returns the hub's device identities.
// IoT Hub's plain listing is capped at 1000 identities and offers no
// cursor, so the page is always final.
func (a *azureIoTAdapter) ListDevices(ctx context.Context, opts ListOptions) (*Page, error) {
	top := opts.PageSize
	if top <= 0 || top > azureListTop {
		top = azureListTop
	}

	var devices []azureDevice
	path := fmt.Sprintf("/devices?top=%d&api-version=%s", top, azureAPIVersion)
	if err := a.rest.doJSON(ctx, http.MethodGet, path, nil, &devices); err != nil {
		return nil, fmt.Errorf("azure iot list devices: %w", err)
	}

	page := &Page{Records: make([]Record, 0, len(devices))}
	for i := range devices {
		page.Records = append(page.Records, azureToRecord(&devices[i]))
	}
	return page, nil
}

// GetDevice reads a device identity and folds in the twin's reported state.
func (a *azureIoTAdapter) GetDevice(ctx context.Context, externalID string) (*Record, error) {
	var dev azureDevice
	path := "/devices/" + url.PathEscape(externalID) + "?api-version=" + azureAPIVersion
	if err := a.rest.doJSON(ctx, http.MethodGet, path, nil, &dev); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("azure iot get device: %w", err)
	}

	rec := azureToRecord(&dev)

	var twin azureTwin
	twinPath := "/twins/" + url.PathEscape(externalID) + "?api-version=" + azureAPIVersion
	if err := a.rest.doJSON(ctx, http.MethodGet, twinPath, nil, &twin); err == nil {
		rec.Shadow = twin.Properties.Reported
	}

	return &rec, nil
}

// UpsertDevice registers the device identity if the hub does not know it.
// Azure identities carry no display name; the name lands in twin tags.
func (a *azureIoTAdapter) UpsertDevice(ctx context.Context, rec *Record) error {
	path := "/devices/" + url.PathEscape(rec.ExternalID) + "?api-version=" + azureAPIVersion

	_, err := a.GetDevice(ctx, rec.ExternalID)
	if errors.Is(err, ErrNotFound) {
		body := map[string]any{"deviceId": rec.ExternalID}
		if err := a.rest.doJSON(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("azure iot create device: %w", err)
		}
	} else if err != nil {
		return err
	}

	twinPath := "/twins/" + url.PathEscape(rec.ExternalID) + "?api-version=" + azureAPIVersion
	body := map[string]any{"tags": map[string]any{"name": rec.Name}}
	if err := a.rest.doJSON(ctx, http.MethodPatch, twinPath, body, nil); err != nil {
		return fmt.Errorf("azure iot update twin tags: %w", err)
	}
	return nil
}

// UpdateShadow pushes desired properties to the device twin.
func (a *azureIoTAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	path := "/twins/" + url.PathEscape(externalID) + "?api-version=" + azureAPIVersion
	body := map[string]any{
		"properties": map[string]any{"desired": shadow},
	}
	if err := a.rest.doJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("azure iot update twin: %w", err)
	}
	return nil
}

// TestConnection verifies the SAS credentials against the hub.
func (a *azureIoTAdapter) TestConnection(ctx context.Context) error {
	path := "/devices?top=1&api-version=" + azureAPIVersion
	var devices []azureDevice
	if err := a.rest.doJSON(ctx, http.MethodGet, path, nil, &devices); err != nil {
		return fmt.Errorf("azure iot test connection: %w", err)
	}
	return nil
}

// azureToRecord normalises an IoT Hub identity onto the local vocabulary.
func azureToRecord(d *azureDevice) Record {
	rec := Record{
		ExternalID: d.DeviceID,
		Name:       d.DeviceID,
		Status:     device.StatusUnknown,
	}

	switch d.ConnectionState {
	case "Connected":
		rec.Status = device.StatusOnline
	case "Disconnected":
		rec.Status = device.StatusOffline
	}

	if d.LastActivityTime != "" {
		if t, err := time.Parse(time.RFC3339, d.LastActivityTime); err == nil && !t.IsZero() {
			rec.UpdatedAt = t.UTC()
		}
	}
	return rec
}
