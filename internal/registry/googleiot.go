package registry

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
)

const (
	googleIoTScope     = "https://www.googleapis.com/auth/cloudiot"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleJWTLifetime  = time.Hour
	googleTokenSlack   = time.Minute
	googleIoTPageSize  = 100
	googleIoTFieldMask = "id,name,lastHeartbeatTime,lastStateTime,metadata"
)

// googleIoTAdapter talks to a Cloud IoT-style device manager REST API.
//
// Required settings: project_id, region, registry_id, client_email,
// private_key (PEM, service account). Optional: base_url for
// self-hosted compatible registries.
type googleIoTAdapter struct {
	rest       *restClient
	parent     string
	tokens     *googleTokenSource
	httpClient *http.Client
}

func newGoogleIoTAdapter(integ *integration.Integration, httpc *http.Client) (*googleIoTAdapter, error) {
	projectID := integ.Settings.String("project_id")
	region := integ.Settings.String("region")
	registryID := integ.Settings.String("registry_id")
	clientEmail := integ.Settings.String("client_email")
	privateKeyPEM := integ.Settings.String("private_key")
	if projectID == "" || region == "" || registryID == "" || clientEmail == "" || privateKeyPEM == "" {
		return nil, fmt.Errorf("%w: google_iot requires project_id, region, registry_id, client_email and private_key", ErrConfig)
	}

	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: private_key: %v", ErrConfig, err)
	}

	base := integ.Settings.String("base_url")
	if base == "" {
		base = "https://cloudiot.googleapis.com"
	}

	tokens := &googleTokenSource{
		email: clientEmail,
		key:   key,
		httpc: httpc,
	}

	a := &googleIoTAdapter{
		parent: fmt.Sprintf("/v1/projects/%s/locations/%s/registries/%s",
			url.PathEscape(projectID), url.PathEscape(region), url.PathEscape(registryID)),
		tokens:     tokens,
		httpClient: httpc,
	}
	a.rest = &restClient{
		base:  base,
		httpc: httpc,
		auth: func(req *http.Request) error {
			token, err := tokens.Token(req.Context())
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		},
	}
	return a, nil
}

// googleDevice is the wire shape of a Cloud IoT device.
type googleDevice struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	LastHeartbeatTime string            `json:"lastHeartbeatTime"`
	LastStateTime     string            `json:"lastStateTime"`
	Metadata          map[string]string `json:"metadata"`
	State             struct {
		BinaryData string `json:"binaryData"`
	} `json:"state"`
}

// ListDevices returns one page of registry devices. The cursor is
// Google's nextPageToken.
func (g *googleIoTAdapter) ListDevices(ctx context.Context, opts ListOptions) (*Page, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = googleIoTPageSize
	}

	path := g.parent + "/devices?pageSize=" + strconv.Itoa(pageSize) +
		"&fieldMask=" + url.QueryEscape(googleIoTFieldMask)
	if opts.Cursor != "" {
		path += "&pageToken=" + url.QueryEscape(opts.Cursor)
	}

	var resp struct {
		Devices       []googleDevice `json:"devices"`
		NextPageToken string         `json:"nextPageToken"`
	}
	if err := g.rest.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("google iot list devices: %w", err)
	}

	page := &Page{NextCursor: resp.NextPageToken, Records: make([]Record, 0, len(resp.Devices))}
	for i := range resp.Devices {
		page.Records = append(page.Records, googleToRecord(&resp.Devices[i]))
	}
	return page, nil
}

// GetDevice reads a single device including its latest state document.
func (g *googleIoTAdapter) GetDevice(ctx context.Context, externalID string) (*Record, error) {
	var dev googleDevice
	path := g.parent + "/devices/" + url.PathEscape(externalID)
	if err := g.rest.doJSON(ctx, http.MethodGet, path, nil, &dev); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("google iot get device: %w", err)
	}

	rec := googleToRecord(&dev)
	if dev.State.BinaryData != "" {
		if raw, err := base64.StdEncoding.DecodeString(dev.State.BinaryData); err == nil {
			var shadow map[string]any
			if json.Unmarshal(raw, &shadow) == nil {
				rec.Shadow = shadow
			}
		}
	}
	return &rec, nil
}

// UpsertDevice creates the device if missing, otherwise patches metadata.
func (g *googleIoTAdapter) UpsertDevice(ctx context.Context, rec *Record) error {
	meta := map[string]string{"name": rec.Name}
	if rec.FirmwareVersion != nil {
		meta["firmware_version"] = *rec.FirmwareVersion
	}

	path := g.parent + "/devices/" + url.PathEscape(rec.ExternalID) +
		"?updateMask=metadata"
	body := map[string]any{"metadata": meta}

	err := g.rest.doJSON(ctx, http.MethodPatch, path, body, nil)
	if errors.Is(err, ErrNotFound) {
		create := map[string]any{"id": rec.ExternalID, "metadata": meta}
		if err := g.rest.doJSON(ctx, http.MethodPost, g.parent+"/devices", create, nil); err != nil {
			return fmt.Errorf("google iot create device: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("google iot update device: %w", err)
	}
	return nil
}

// UpdateShadow sends the document to the device config channel.
func (g *googleIoTAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	raw, err := json.Marshal(shadow)
	if err != nil {
		return fmt.Errorf("encoding shadow: %w", err)
	}

	path := g.parent + "/devices/" + url.PathEscape(externalID) + ":modifyCloudToDeviceConfig"
	body := map[string]any{
		"binaryData": base64.StdEncoding.EncodeToString(raw),
	}
	if err := g.rest.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("google iot update config: %w", err)
	}
	return nil
}

// TestConnection verifies credentials by listing one device.
func (g *googleIoTAdapter) TestConnection(ctx context.Context) error {
	if _, err := g.ListDevices(ctx, ListOptions{PageSize: 1}); err != nil {
		return fmt.Errorf("google iot test connection: %w", err)
	}
	return nil
}

// googleToRecord normalises a Cloud IoT device onto the local vocabulary.
// Cloud IoT has no connectivity flag; a recent heartbeat counts as online.
func googleToRecord(d *googleDevice) Record {
	rec := Record{
		ExternalID: d.ID,
		Name:       d.ID,
		Status:     device.StatusUnknown,
	}

	if name, ok := d.Metadata["name"]; ok && name != "" {
		rec.Name = name
	}
	if fw, ok := d.Metadata["firmware_version"]; ok && fw != "" {
		v := fw
		rec.FirmwareVersion = &v
	}

	if d.LastHeartbeatTime != "" {
		if t, err := time.Parse(time.RFC3339, d.LastHeartbeatTime); err == nil {
			rec.UpdatedAt = t.UTC()
			if time.Since(t) < 10*time.Minute {
				rec.Status = device.StatusOnline
			} else {
				rec.Status = device.StatusOffline
			}
		}
	}
	return rec
}

// googleTokenSource exchanges a signed service-account JWT for an OAuth
// bearer token and caches it until shortly before expiry.
type googleTokenSource struct {
	email string
	key   *rsa.PrivateKey
	httpc *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Token returns a valid bearer token, refreshing if needed.
func (s *googleTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expires) > googleTokenSlack {
		return s.token, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": googleIoTScope,
		"aud":   googleTokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(googleJWTLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange failed with HTTP %d", ErrAuth, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	s.token = body.AccessToken
	s.expires = now.Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.token, nil
}

// parseRSAPrivateKey accepts PKCS#1 and PKCS#8 PEM blocks.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
