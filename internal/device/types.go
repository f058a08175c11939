package device

import (
	"strings"
	"time"
)

// Device represents the local view of a physical IoT device.
// This matches the database schema in migrations/20260815_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`

	// Registry link. Nil for devices created locally and never synced.
	IntegrationID    *string `json:"integration_id,omitempty"`
	ExternalDeviceID *string `json:"external_device_id,omitempty"`

	// Connectivity
	Status          Status     `json:"status"`
	LastSeenOnline  *time.Time `json:"last_seen_online,omitempty"`
	LastSeenOffline *time.Time `json:"last_seen_offline,omitempty"`

	// Shadow holds the reported device state as a JSON document.
	//
	// Example:
	//
	//	{"temperature": 21.4, "battery": 87, "reported_at": "2026-08-15T12:00:00Z"}
	Shadow Shadow `json:"shadow"`

	// Tags are free-form string labels used by sync device filters.
	// Example: ["cold-chain", "warehouse-3"]
	Tags []string `json:"tags,omitempty"`

	FirmwareVersion *string `json:"firmware_version,omitempty"`

	// Version increments on every write. Sync conflict detection compares
	// it against the value a run read before reconciling.
	Version int64 `json:"version"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Shadow holds reported device state as a JSON map.
type Shadow map[string]any

// Status represents device connectivity as last reported by a registry.
type Status string

// Status constants.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// AllStatuses returns all valid device status values.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusUnknown}
}

// Filter narrows a device query or sync run to a subset of the catalogue.
type Filter struct {
	// IntegrationID restricts results to devices linked to one integration.
	IntegrationID string

	// OnlyOnline restricts results to devices currently reported online.
	OnlyOnline bool

	// Tags restricts results to devices carrying at least one of these tags.
	Tags []string

	// NamePrefix restricts results to devices whose name starts with the prefix.
	NamePrefix string
}

// Matches reports whether the device satisfies the filter.
// Tag and prefix checks are applied in memory; repository queries only
// narrow by integration and status.
func (d *Device) Matches(f Filter) bool {
	if f.OnlyOnline && d.Status != StatusOnline {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(d.Name, f.NamePrefix) {
		return false
	}
	if len(f.Tags) > 0 && !d.HasAnyTag(f.Tags) {
		return false
	}
	return true
}

// HasAnyTag reports whether the device carries at least one of the given tags.
func (d *Device) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range d.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Shadow = Shadow(deepCopyMap(d.Shadow))

	if d.Tags != nil {
		cpy.Tags = make([]string, len(d.Tags))
		copy(cpy.Tags, d.Tags)
	}

	// Pointer fields (*string, *time.Time) don't need deep copy
	// because strings and time.Time are immutable in Go

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
