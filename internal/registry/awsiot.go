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

const awsIoTPageSize = 100

// awsIoTAdapter talks to AWS IoT Core over its REST API with SigV4 signing.
//
// Required settings: access_key_id, secret_access_key, region.
// Optional: data_endpoint (the account's -ats data plane host, needed
// for shadow operations).
type awsIoTAdapter struct {
	control *restClient
	data    *restClient
	region  string
}

func newAWSIoTAdapter(integ *integration.Integration, httpc *http.Client) (*awsIoTAdapter, error) {
	accessKey := integ.Settings.String("access_key_id")
	secretKey := integ.Settings.String("secret_access_key")
	region := integ.Settings.String("region")
	if accessKey == "" || secretKey == "" || region == "" {
		return nil, fmt.Errorf("%w: aws_iot requires access_key_id, secret_access_key and region", ErrConfig)
	}

	signer := func(service string) func(req *http.Request) error {
		return func(req *http.Request) error {
			return signAWSRequest(req, accessKey, secretKey, region, service, time.Now())
		}
	}

	a := &awsIoTAdapter{
		region: region,
		control: &restClient{
			base:  fmt.Sprintf("https://iot.%s.amazonaws.com", region),
			httpc: httpc,
			auth:  signer("execute-api"),
		},
	}

	if endpoint := integ.Settings.String("data_endpoint"); endpoint != "" {
		a.data = &restClient{
			base:  "https://" + endpoint,
			httpc: httpc,
			auth:  signer("iotdata"),
		}
	}

	return a, nil
}

// awsThing is the wire shape of an AWS IoT thing.
type awsThing struct {
	ThingName  string            `json:"thingName"`
	ThingType  string            `json:"thingTypeName"`
	Attributes map[string]string `json:"attributes"`
	Version    int64             `json:"version"`
}

// ListDevices returns one page of things. The cursor is AWS's nextToken.
func (a *awsIoTAdapter) ListDevices(ctx context.Context, opts ListOptions) (*Page, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = awsIoTPageSize
	}

	path := "/things?maxResults=" + strconv.Itoa(pageSize)
	if opts.Cursor != "" {
		path += "&nextToken=" + url.QueryEscape(opts.Cursor)
	}

	var resp struct {
		Things    []awsThing `json:"things"`
		NextToken string     `json:"nextToken"`
	}
	if err := a.control.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("aws iot list things: %w", err)
	}

	page := &Page{NextCursor: resp.NextToken, Records: make([]Record, 0, len(resp.Things))}
	for i := range resp.Things {
		page.Records = append(page.Records, awsThingToRecord(&resp.Things[i]))
	}
	return page, nil
}

// GetDevice describes a single thing and, when a data endpoint is
// configured, folds in its reported shadow.
func (a *awsIoTAdapter) GetDevice(ctx context.Context, externalID string) (*Record, error) {
	var thing awsThing
	path := "/things/" + url.PathEscape(externalID)
	if err := a.control.doJSON(ctx, http.MethodGet, path, nil, &thing); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("aws iot describe thing: %w", err)
	}

	rec := awsThingToRecord(&thing)
	if a.data != nil {
		if shadow, err := a.getShadow(ctx, externalID); err == nil {
			rec.Shadow = shadow
		}
	}
	return &rec, nil
}

func (a *awsIoTAdapter) getShadow(ctx context.Context, thingName string) (map[string]any, error) {
	var resp struct {
		State struct {
			Reported map[string]any `json:"reported"`
		} `json:"state"`
	}
	path := "/things/" + url.PathEscape(thingName) + "/shadow"
	if err := a.data.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.State.Reported, nil
}

// UpsertDevice creates the thing if missing, then merges its attributes.
func (a *awsIoTAdapter) UpsertDevice(ctx context.Context, rec *Record) error {
	path := "/things/" + url.PathEscape(rec.ExternalID)

	attrs := map[string]string{"name": rec.Name}
	if rec.FirmwareVersion != nil {
		attrs["firmware_version"] = *rec.FirmwareVersion
	}
	body := map[string]any{
		"attributePayload": map[string]any{
			"attributes": attrs,
			"merge":      true,
		},
	}

	err := a.control.doJSON(ctx, http.MethodPatch, path, body, nil)
	if errors.Is(err, ErrNotFound) {
		if err := a.control.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
			return fmt.Errorf("aws iot create thing: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("aws iot update thing: %w", err)
	}
	return nil
}

// UpdateShadow replaces the thing's reported state document.
func (a *awsIoTAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	if a.data == nil {
		return fmt.Errorf("%w: shadow updates need the data_endpoint setting", ErrUnsupported)
	}

	body := map[string]any{
		"state": map[string]any{"reported": shadow},
	}
	path := "/things/" + url.PathEscape(externalID) + "/shadow"
	if err := a.data.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("aws iot update shadow: %w", err)
	}
	return nil
}

// TestConnection lists a single thing to verify the credentials.
func (a *awsIoTAdapter) TestConnection(ctx context.Context) error {
	var resp struct {
		Things []awsThing `json:"things"`
	}
	if err := a.control.doJSON(ctx, http.MethodGet, "/things?maxResults=1", nil, &resp); err != nil {
		return fmt.Errorf("aws iot test connection: %w", err)
	}
	return nil
}

// awsThingToRecord normalises a thing onto the local vocabulary.
// AWS does not report connectivity on the thing record, so status comes
// from a conventional "status" attribute when fleets publish one.
func awsThingToRecord(t *awsThing) Record {
	rec := Record{
		ExternalID: t.ThingName,
		Name:       t.ThingName,
		Status:     device.StatusUnknown,
	}

	if name, ok := t.Attributes["name"]; ok && name != "" {
		rec.Name = name
	}
	switch t.Attributes["status"] {
	case "online":
		rec.Status = device.StatusOnline
	case "offline":
		rec.Status = device.StatusOffline
	}
	if fw, ok := t.Attributes["firmware_version"]; ok && fw != "" {
		v := fw
		rec.FirmwareVersion = &v
	}
	return rec
}
