package notify

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery transport.
type Channel string

// Channel constants.
const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Status is the lifecycle state of a delivery.
type Status string

// Status constants. Skipped marks a cooldown-gated no-op.
const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Delivery records one notification attempt and its outcome.
type Delivery struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	IntegrationID  *string `json:"integration_id,omitempty"`
	Channel        Channel `json:"channel"`

	Recipients []string       `json:"recipients"`
	Subject    string         `json:"subject,omitempty"`
	Payload    map[string]any `json:"payload"`

	Status         Status `json:"status"`
	ResponseCode   *int   `json:"response_code,omitempty"`
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
	RetryCount     int    `json:"retry_count"`
	Error          string `json:"error,omitempty"`

	// CooldownKey identifies the (device, condition) pair for
	// threshold-triggered alerts. Empty disables cooldown gating.
	CooldownKey string `json:"cooldown_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SendRequest describes a notification to deliver.
type SendRequest struct {
	OrganizationID string
	IntegrationID  *string
	Channel        Channel
	Recipients     []string
	Subject        string
	Payload        map[string]any
	CooldownKey    string
}

// GenerateID creates a new delivery ID.
func GenerateID() string {
	return "ntf-" + uuid.NewString()
}
