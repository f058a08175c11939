package sync

import (
	"time"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/registry"
)

// Winner names which side a conflict resolution kept.
type Winner string

// Winner constants.
const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerManual Winner = "manual"
)

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Winner Winner

	// Record is the device state to persist when the remote side wins:
	// the local record with the remote fields applied. Nil when the
	// local side wins or the decision is deferred to a human.
	Record *device.Device
}

// Resolve decides a conflict between a local device and a remote record
// under the given policy.
//
// The function is pure and idempotent: the same (local, remote, policy)
// always yields the same winner.
//
//   - local_wins: the local record is kept; the remote change is discarded.
//   - remote_wins: the remote record is applied.
//   - newest_wins: the strictly later updated_at wins; on an exact tie
//     the remote side wins.
//   - manual: no automatic decision; the caller records a pending conflict.
func Resolve(local *device.Device, remote *registry.Record, policy integration.ConflictPolicy) Resolution {
	switch policy {
	case integration.PolicyLocalWins:
		return Resolution{Winner: WinnerLocal}
	case integration.PolicyRemoteWins:
		return Resolution{Winner: WinnerRemote, Record: ApplyRemote(local, remote)}
	case integration.PolicyManual:
		return Resolution{Winner: WinnerManual}
	default: // newest_wins
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return Resolution{Winner: WinnerLocal}
		}
		return Resolution{Winner: WinnerRemote, Record: ApplyRemote(local, remote)}
	}
}

// BothChanged reports whether local and remote have both been modified
// since the last reconciliation. A zero lastSync means no reconciliation
// has happened yet, so any coexisting pair counts as diverged and goes
// through the resolver.
func BothChanged(localUpdated, remoteUpdated, lastSync time.Time) bool {
	if lastSync.IsZero() {
		return true
	}
	return localUpdated.After(lastSync) && remoteUpdated.After(lastSync)
}

// ApplyRemote returns a copy of the local device with the remote
// record's fields applied. The local identity (ID, organization,
// integration link) is preserved.
func ApplyRemote(local *device.Device, remote *registry.Record) *device.Device {
	merged := local.DeepCopy()

	if remote.Name != "" {
		merged.Name = remote.Name
	}
	if remote.Status != "" {
		merged.Status = remote.Status
	}
	if remote.Shadow != nil {
		merged.Shadow = device.Shadow(remote.Shadow)
	}
	if len(remote.Tags) > 0 {
		merged.Tags = remote.Tags
	}
	if remote.FirmwareVersion != nil {
		merged.FirmwareVersion = remote.FirmwareVersion
	}
	if merged.ExternalDeviceID == nil || *merged.ExternalDeviceID == "" {
		ext := remote.ExternalID
		merged.ExternalDeviceID = &ext
	}
	return merged
}

// LocalSnapshot flattens a device into a conflict snapshot document.
func LocalSnapshot(d *device.Device) map[string]any {
	snap := map[string]any{
		"name":       d.Name,
		"status":     string(d.Status),
		"shadow":     map[string]any(d.Shadow),
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339),
		"version":    d.Version,
	}
	if len(d.Tags) > 0 {
		snap["tags"] = d.Tags
	}
	if d.FirmwareVersion != nil {
		snap["firmware_version"] = *d.FirmwareVersion
	}
	return snap
}

// RecordSnapshot flattens a registry record into a conflict snapshot document.
func RecordSnapshot(r *registry.Record) map[string]any {
	snap := map[string]any{
		"external_id": r.ExternalID,
		"name":        r.Name,
		"status":      string(r.Status),
		"shadow":      r.Shadow,
	}
	if !r.UpdatedAt.IsZero() {
		snap["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if len(r.Tags) > 0 {
		snap["tags"] = r.Tags
	}
	if r.FirmwareVersion != nil {
		snap["firmware_version"] = *r.FirmwareVersion
	}
	return snap
}
