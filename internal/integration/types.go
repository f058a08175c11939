package integration

import "time"

// Integration represents a connection to an external system: a device
// registry whose catalogue is synchronised locally, or a notification
// channel used for outbound alerts.
type Integration struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`

	Type Type   `json:"type"`
	Name string `json:"name"`

	// Settings holds type-specific credentials and endpoints as a JSON map.
	//
	// Examples:
	//
	//	Golioth: {"api_key": "...", "project_id": "my-project"}
	//	AWS IoT: {"access_key_id": "...", "secret_access_key": "...", "region": "eu-west-2"}
	//	MQTT:    {"host": "broker.local", "port": 1883, "username": "...", "password": "...", "topic_prefix": "fleet"}
	//	Slack:   {"webhook_url": "https://hooks.slack.com/...", "channel": "#alerts"}
	Settings Settings `json:"settings"`

	Status Status       `json:"status"`
	Sync   SyncSettings `json:"sync"`

	// WebhookSecret signs inbound webhook payloads (HMAC-SHA256).
	WebhookSecret *string `json:"webhook_secret,omitempty"`
	WebhookURL    *string `json:"webhook_url,omitempty"`

	// ConsecutiveFailures counts fatal sync runs since the last successful
	// one. The orchestrator flips Status to error once it reaches the
	// configured threshold.
	ConsecutiveFailures int `json:"consecutive_failures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings holds type-specific integration configuration as a JSON map.
type Settings map[string]any

// String returns the string value for a settings key, or "" if absent.
func (s Settings) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Int returns the integer value for a settings key, or 0 if absent.
// JSON numbers decode as float64, so both representations are accepted.
func (s Settings) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool returns the boolean value for a settings key, or false if absent.
func (s Settings) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// SyncSettings holds the auto-sync configuration for a registry integration.
type SyncSettings struct {
	Enabled            bool           `json:"enabled"`
	FrequencyMinutes   int            `json:"frequency_minutes"`
	Direction          Direction      `json:"direction"`
	ConflictResolution ConflictPolicy `json:"conflict_resolution"`
	OnlyOnline         bool           `json:"only_online"`
	DeviceFilter       *DeviceFilter  `json:"device_filter,omitempty"`
}

// DeviceFilter narrows which devices a sync run touches.
type DeviceFilter struct {
	// Tags restricts the run to devices carrying at least one of these tags.
	Tags []string `json:"tags,omitempty"`

	// NamePrefix restricts the run to devices whose name starts with the prefix.
	NamePrefix string `json:"name_prefix,omitempty"`

	// ExternalIDs restricts the run to these external device identifiers.
	// Used by manual triggers that target specific devices.
	ExternalIDs []string `json:"external_ids,omitempty"`
}

// Type identifies what kind of external system an integration connects to.
type Type string

// Device registry integration types.
const (
	TypeGolioth   Type = "golioth"
	TypeAWSIoT    Type = "aws_iot"
	TypeAzureIoT  Type = "azure_iot"
	TypeGoogleIoT Type = "google_iot"
	TypeMQTT      Type = "mqtt"
)

// Notification channel integration types.
const (
	TypeEmail   Type = "email"
	TypeSlack   Type = "slack"
	TypeWebhook Type = "webhook"
)

// AllTypes returns all valid integration types.
func AllTypes() []Type {
	return []Type{
		TypeGolioth, TypeAWSIoT, TypeAzureIoT, TypeGoogleIoT, TypeMQTT,
		TypeEmail, TypeSlack, TypeWebhook,
	}
}

// IsRegistry reports whether the type is a device registry that can be synced.
func (t Type) IsRegistry() bool {
	switch t {
	case TypeGolioth, TypeAWSIoT, TypeAzureIoT, TypeGoogleIoT, TypeMQTT:
		return true
	default:
		return false
	}
}

// IsChannel reports whether the type is a notification channel.
func (t Type) IsChannel() bool {
	switch t {
	case TypeEmail, TypeSlack, TypeWebhook:
		return true
	default:
		return false
	}
}

// Status represents the integration lifecycle state.
type Status string

// Status constants.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusError}
}

// Direction controls which way device records flow during a sync run.
type Direction string

// Direction constants.
const (
	DirectionImport        Direction = "import"
	DirectionExport        Direction = "export"
	DirectionBidirectional Direction = "bidirectional"
)

// AllDirections returns all valid sync directions.
func AllDirections() []Direction {
	return []Direction{DirectionImport, DirectionExport, DirectionBidirectional}
}

// ConflictPolicy decides the winner when both sides changed since the last
// reconciliation.
type ConflictPolicy string

// ConflictPolicy constants.
const (
	PolicyManual     ConflictPolicy = "manual"
	PolicyLocalWins  ConflictPolicy = "local_wins"
	PolicyRemoteWins ConflictPolicy = "remote_wins"
	PolicyNewestWins ConflictPolicy = "newest_wins"
)

// AllConflictPolicies returns all valid conflict resolution policies.
func AllConflictPolicies() []ConflictPolicy {
	return []ConflictPolicy{PolicyManual, PolicyLocalWins, PolicyRemoteWins, PolicyNewestWins}
}

// Sync frequency bounds (minutes).
const (
	MinFrequencyMinutes = 1
	MaxFrequencyMinutes = 1440
)
