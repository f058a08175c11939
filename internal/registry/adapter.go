package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
)

// Record is a device as reported by an external registry, normalised to
// the local vocabulary. ExternalID is the registry's primary identifier
// (a serial number or thing name, depending on the vendor).
type Record struct {
	ExternalID      string         `json:"external_id"`
	Name            string         `json:"name"`
	Status          device.Status  `json:"status"`
	Shadow          map[string]any `json:"shadow,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	FirmwareVersion *string        `json:"firmware_version,omitempty"`

	// UpdatedAt is the registry's last-modified time for the record.
	// Zero when the vendor does not report one.
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions controls registry pagination.
type ListOptions struct {
	// Cursor resumes listing from a previous page. Empty starts from the top.
	Cursor string

	// PageSize caps the number of records per page. Zero lets the
	// adapter pick the vendor default.
	PageSize int
}

// Page is one page of registry records.
type Page struct {
	Records []Record

	// NextCursor is non-empty when more pages remain.
	NextCursor string
}

// Adapter is the uniform interface over a vendor device registry.
type Adapter interface {
	// ListDevices returns one page of the remote device catalogue.
	ListDevices(ctx context.Context, opts ListOptions) (*Page, error)

	// GetDevice returns a single remote record.
	// Returns ErrNotFound if the registry has no such device.
	GetDevice(ctx context.Context, externalID string) (*Record, error)

	// UpsertDevice creates or updates a remote record. Export runs use
	// this to push local changes out.
	UpsertDevice(ctx context.Context, rec *Record) error

	// UpdateShadow replaces the remote reported state document.
	UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error

	// TestConnection verifies credentials and reachability without
	// modifying anything.
	TestConnection(ctx context.Context) error
}

// Factory builds adapters from integration records. It holds the shared
// HTTP client so REST adapters reuse connections.
type Factory struct {
	httpc *http.Client
}

// NewFactory creates an adapter factory.
// A nil client gets a sane default with the given timeout.
func NewFactory(httpc *http.Client, timeout time.Duration) *Factory {
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	return &Factory{httpc: httpc}
}

// New returns the adapter for a registry integration.
// Returns ErrUnsupported for notification-channel types and ErrConfig
// when required settings are missing.
func (f *Factory) New(integ *integration.Integration) (Adapter, error) {
	switch integ.Type {
	case integration.TypeGolioth:
		return newGoliothAdapter(integ, f.httpc)
	case integration.TypeAWSIoT:
		return newAWSIoTAdapter(integ, f.httpc)
	case integration.TypeAzureIoT:
		return newAzureIoTAdapter(integ, f.httpc)
	case integration.TypeGoogleIoT:
		return newGoogleIoTAdapter(integ, f.httpc)
	case integration.TypeMQTT:
		return newMQTTAdapter(integ)
	default:
		return nil, fmt.Errorf("%w: no adapter for type %q", ErrUnsupported, integ.Type)
	}
}
