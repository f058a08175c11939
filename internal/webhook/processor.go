package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/registry"
	syncengine "github.com/netneural/sync-core/internal/sync"
)

// Event types recognised in inbound payloads.
const (
	EventDeviceCreated       = "device.created"
	EventDeviceUpdated       = "device.updated"
	EventDeviceDeleted       = "device.deleted"
	EventDeviceStatusChanged = "device.status_changed"
)

// Result is the outcome of an ingest call.
type Result struct {
	Accepted bool   `json:"accepted"`
	Deduped  bool   `json:"deduped,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// ProcessorConfig wires the processor's dependencies.
type ProcessorConfig struct {
	Integrations integration.Repository
	Devices      device.Repository
	Conflicts    syncengine.ConflictRepository
	Runs         syncengine.RunRepository
	Events       EventRepository
	Activity     activity.Repository
	Logger       *logging.Logger
	Broadcast    syncengine.Broadcaster
}

// Processor authenticates, deduplicates and applies webhook events.
type Processor struct {
	integrations integration.Repository
	devices      device.Repository
	conflicts    syncengine.ConflictRepository
	runs         syncengine.RunRepository
	events       EventRepository
	activity     activity.Repository
	log          *logging.Logger
	broadcast    syncengine.Broadcaster
}

// NewProcessor creates a webhook processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Processor{
		integrations: cfg.Integrations,
		devices:      cfg.Devices,
		conflicts:    cfg.Conflicts,
		runs:         cfg.Runs,
		events:       cfg.Events,
		activity:     cfg.Activity,
		log:          log.With("component", "webhook"),
		broadcast:    cfg.Broadcast,
	}
}

// payload is the normalised inbound event document.
type payload struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Device    payloadDevice `json:"device"`
}

type payloadDevice struct {
	ExternalID      string         `json:"external_id"`
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	Shadow          map[string]any `json:"shadow"`
	Tags            []string       `json:"tags"`
	FirmwareVersion *string        `json:"firmware_version"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Ingest authenticates and applies one raw webhook delivery.
//
// The signature is verified over the raw body before anything is parsed.
// A replay of an already-processed event is acknowledged without
// touching any state.
func (p *Processor) Ingest(ctx context.Context, integrationID string, raw []byte, signature string) (*Result, error) {
	integ, err := p.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	if integ.WebhookSecret == nil || *integ.WebhookSecret == "" {
		return nil, ErrNoSecret
	}
	if !VerifySignature(*integ.WebhookSecret, raw, signature) {
		p.log.Warn("webhook signature rejected", "integration_id", integ.ID)
		p.record(ctx, integ, activity.StatusFailure, "webhook rejected: signature mismatch", nil)
		return nil, ErrSignatureMismatch
	}

	var pl payload
	if err := json.Unmarshal(raw, &pl); err != nil || pl.Device.ExternalID == "" {
		p.record(ctx, integ, activity.StatusFailure, "webhook rejected: invalid payload", nil)
		return nil, fmt.Errorf("%w: missing device external_id", ErrInvalidPayload)
	}
	if pl.EventType == "" {
		pl.EventType = EventDeviceUpdated
	}

	key := DedupeKey(pl.EventID, raw)

	if ev, err := p.events.Get(ctx, integ.ID, key); err == nil && ev.ProcessedAt != nil {
		return &Result{Accepted: true, Deduped: true}, nil
	} else if err != nil && !errors.Is(err, ErrEventNotFound) {
		return nil, err
	}

	if err := p.events.Record(ctx, integ.ID, key); err != nil {
		return nil, err
	}

	deviceID, err := p.apply(ctx, integ, &pl)
	if err != nil {
		p.record(ctx, integ, activity.StatusFailure,
			fmt.Sprintf("webhook %s failed: %v", pl.EventType, err),
			map[string]any{"dedupe_key": key, "event_type": pl.EventType})
		return nil, err
	}

	if err := p.events.MarkProcessed(ctx, integ.ID, key); err != nil {
		return nil, err
	}

	p.record(ctx, integ, activity.StatusSuccess,
		fmt.Sprintf("webhook %s applied", pl.EventType),
		map[string]any{"dedupe_key": key, "event_type": pl.EventType, "device_id": deviceID})

	return &Result{Accepted: true, DeviceID: deviceID}, nil
}

// apply routes the event through the same reconciliation used by import
// runs, so a webhook racing a local edit resolves identically.
func (p *Processor) apply(ctx context.Context, integ *integration.Integration, pl *payload) (string, error) {
	rec := &registry.Record{
		ExternalID:      pl.Device.ExternalID,
		Name:            pl.Device.Name,
		Status:          normaliseStatus(pl.Device.Status),
		Shadow:          pl.Device.Shadow,
		Tags:            pl.Device.Tags,
		FirmwareVersion: pl.Device.FirmwareVersion,
		UpdatedAt:       pl.Device.UpdatedAt,
	}

	local, err := p.devices.GetByExternalID(ctx, integ.OrganizationID, rec.ExternalID)
	if errors.Is(err, device.ErrNotFound) && rec.Name != "" {
		local, err = p.devices.GetByName(ctx, integ.OrganizationID, rec.Name)
	}

	switch pl.EventType {
	case EventDeviceDeleted:
		if errors.Is(err, device.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if err := p.devices.Delete(ctx, local.ID); err != nil {
			return "", err
		}
		p.emit("device.deleted", local)
		return local.ID, nil

	case EventDeviceStatusChanged:
		if err != nil {
			return "", err
		}
		seenAt := pl.Device.UpdatedAt
		if seenAt.IsZero() {
			seenAt = time.Now().UTC()
		}
		if err := p.devices.SetStatus(ctx, local.ID, rec.Status, seenAt); err != nil {
			return "", err
		}
		p.emit("device.updated", local)
		return local.ID, nil
	}

	if errors.Is(err, device.ErrNotFound) {
		return p.create(ctx, integ, rec)
	}
	if err != nil {
		return "", err
	}

	return p.reconcile(ctx, integ, local, rec)
}

func (p *Processor) create(ctx context.Context, integ *integration.Integration, rec *registry.Record) (string, error) {
	if rec.Name == "" {
		return "", fmt.Errorf("%w: missing required name", ErrInvalidPayload)
	}
	ext := rec.ExternalID
	d := &device.Device{
		OrganizationID:   integ.OrganizationID,
		Name:             rec.Name,
		IntegrationID:    &integ.ID,
		ExternalDeviceID: &ext,
		Status:           rec.Status,
		Shadow:           device.Shadow(rec.Shadow),
		Tags:             rec.Tags,
		FirmwareVersion:  rec.FirmwareVersion,
	}
	if err := p.devices.Create(ctx, d); err != nil {
		return "", err
	}
	p.emit("device.updated", d)
	return d.ID, nil
}

func (p *Processor) reconcile(ctx context.Context, integ *integration.Integration, local *device.Device, rec *registry.Record) (string, error) {
	lastSync, err := p.runs.LastCompletedAt(ctx, integ.ID)
	if err != nil {
		return "", err
	}

	if !syncengine.BothChanged(local.UpdatedAt, rec.UpdatedAt, lastSync) {
		merged := syncengine.ApplyRemote(local, rec)
		merged.IntegrationID = &integ.ID
		if err := p.devices.Update(ctx, merged, true); err != nil {
			return "", err
		}
		p.emit("device.updated", merged)
		return local.ID, nil
	}

	policy := integ.Sync.ConflictResolution
	if policy == "" {
		policy = integration.PolicyNewestWins
	}
	res := syncengine.Resolve(local, rec, policy)

	conflict := &syncengine.Conflict{
		DeviceID:       local.ID,
		IntegrationID:  integ.ID,
		LocalSnapshot:  syncengine.LocalSnapshot(local),
		RemoteSnapshot: syncengine.RecordSnapshot(rec),
		PolicyApplied:  policy,
	}

	switch res.Winner {
	case syncengine.WinnerRemote:
		now := time.Now().UTC()
		conflict.Resolution = syncengine.ResolutionRemote
		conflict.ResolvedAt = &now
		conflict.ResolvedBy = "system"
		if err := p.conflicts.Create(ctx, conflict); err != nil {
			return "", err
		}
		res.Record.IntegrationID = &integ.ID
		if err := p.devices.Update(ctx, res.Record, true); err != nil {
			return "", err
		}
		p.emit("device.updated", res.Record)
	case syncengine.WinnerLocal:
		now := time.Now().UTC()
		conflict.Resolution = syncengine.ResolutionLocal
		conflict.ResolvedAt = &now
		conflict.ResolvedBy = "system"
		if err := p.conflicts.Create(ctx, conflict); err != nil {
			return "", err
		}
	default:
		if err := p.conflicts.Create(ctx, conflict); err != nil {
			return "", err
		}
		p.emit("conflict.detected", conflict)
	}
	return local.ID, nil
}

// PruneEvents removes dedupe records older than the retention cutoff.
func (p *Processor) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return p.events.Prune(ctx, time.Now().UTC().Add(-retention))
}

func (p *Processor) record(ctx context.Context, integ *integration.Integration, status, message string, metadata map[string]any) {
	entry := &activity.Entry{
		OrganizationID: integ.OrganizationID,
		IntegrationID:  integ.ID,
		Type:           activity.TypeWebhook,
		Status:         status,
		Message:        message,
		Metadata:       metadata,
	}
	if err := p.activity.Create(ctx, entry); err != nil {
		p.log.Error("recording webhook activity", "integration_id", integ.ID, "error", err)
	}
}

func (p *Processor) emit(event string, payload any) {
	if p.broadcast != nil {
		p.broadcast.Broadcast(event, payload)
	}
}

// VerifySignature checks an HMAC-SHA256 hex signature over the raw body.
// An optional "sha256=" prefix on the header is accepted. The comparison
// is constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	got := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	return hmac.Equal([]byte(want), []byte(got))
}

// Sign computes the hex HMAC-SHA256 signature senders put in the
// signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// DedupeKey derives the idempotency key for a delivery: the vendor event
// ID when present, otherwise a digest of the raw payload.
func DedupeKey(eventID string, raw []byte) string {
	if eventID != "" {
		return eventID
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func normaliseStatus(s string) device.Status {
	switch device.Status(s) {
	case device.StatusOnline, device.StatusOffline:
		return device.Status(s)
	default:
		return device.StatusUnknown
	}
}
