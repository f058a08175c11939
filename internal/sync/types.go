package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/netneural/sync-core/internal/integration"
)

// Operation identifies what a sync run does.
type Operation string

// Operation constants.
const (
	OperationImport        Operation = "import"
	OperationExport        Operation = "export"
	OperationBidirectional Operation = "bidirectional"
)

// OperationForDirection maps an integration's sync direction to the run
// operation it schedules.
func OperationForDirection(d integration.Direction) Operation {
	switch d {
	case integration.DirectionExport:
		return OperationExport
	case integration.DirectionBidirectional:
		return OperationBidirectional
	default:
		return OperationImport
	}
}

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

// RunStatus constants.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunError is one bounded per-device error entry.
type RunError struct {
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message"`
}

// SyncRun records one reconciliation pass. Created at run start, sealed
// at completion; immutable once sealed.
//
// For a sealed run, Processed == Succeeded + Failed always holds.
type SyncRun struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id"`
	Operation     Operation  `json:"operation"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        RunStatus  `json:"status"`

	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Errors holds at most the configured cap of per-device errors.
	// ErrorsTruncated reports that more occurred than were kept.
	Errors          []RunError `json:"errors"`
	ErrorsTruncated bool       `json:"errors_truncated,omitempty"`

	// Import and Export carry the nested phase runs of a bidirectional
	// run; the top-level counts are their element-wise sums.
	Import *SyncRun `json:"import,omitempty"`
	Export *SyncRun `json:"export,omitempty"`
}

// GenerateRunID creates a new sync run ID.
func GenerateRunID() string {
	return "run-" + uuid.NewString()
}

// ConflictResolution is the outcome recorded on a conflict row.
type ConflictResolution string

// ConflictResolution constants.
const (
	ResolutionPending ConflictResolution = "pending"
	ResolutionLocal   ConflictResolution = "local"
	ResolutionRemote  ConflictResolution = "remote"
)

// Conflict records a divergence where both sides changed since the last
// reconciliation. Automatic policies resolve it immediately; the manual
// policy leaves it pending for a human.
type Conflict struct {
	ID             string                       `json:"id"`
	DeviceID       string                       `json:"device_id"`
	IntegrationID  string                       `json:"integration_id"`
	LocalSnapshot  map[string]any               `json:"local_snapshot"`
	RemoteSnapshot map[string]any               `json:"remote_snapshot"`
	DetectedAt     time.Time                    `json:"detected_at"`
	PolicyApplied  integration.ConflictPolicy   `json:"policy_applied"`
	Resolution     ConflictResolution           `json:"resolution"`
	ResolvedAt     *time.Time                   `json:"resolved_at,omitempty"`
	ResolvedBy     string                       `json:"resolved_by,omitempty"`
}

// GenerateConflictID creates a new conflict ID.
func GenerateConflictID() string {
	return "cfl-" + uuid.NewString()
}
