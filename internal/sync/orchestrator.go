package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/registry"
)

// listPageSize is the page size requested from registry adapters.
const listPageSize = 100

// Broadcaster pushes engine events to connected clients. Implemented by
// the websocket hub; a nil Broadcaster drops events.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// AdapterFactory builds a registry adapter for an integration.
// Satisfied by registry.Factory.
type AdapterFactory interface {
	New(integ *integration.Integration) (registry.Adapter, error)
}

// OrchestratorConfig wires the orchestrator's dependencies.
type OrchestratorConfig struct {
	Integrations integration.Repository
	Devices      device.Repository
	Runs         RunRepository
	Conflicts    ConflictRepository
	Activity     activity.Repository
	Adapters     AdapterFactory
	Sync         config.SyncConfig
	Logger       *logging.Logger
	Events       Broadcaster
}

// Orchestrator drives sync runs against registry adapters.
//
// At most one run per integration is in flight at a time; concurrent
// triggers for the same integration fail fast with ErrAlreadyRunning.
type Orchestrator struct {
	integrations integration.Repository
	devices      device.Repository
	runs         RunRepository
	conflicts    ConflictRepository
	activity     activity.Repository
	adapters     AdapterFactory
	cfg          config.SyncConfig
	log          *logging.Logger
	events       Broadcaster

	mu       gosync.Mutex
	inflight map[string]bool
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		integrations: cfg.Integrations,
		devices:      cfg.Devices,
		runs:         cfg.Runs,
		conflicts:    cfg.Conflicts,
		activity:     cfg.Activity,
		adapters:     cfg.Adapters,
		cfg:          cfg.Sync,
		log:          log.With("component", "orchestrator"),
		events:       cfg.Events,
		inflight:     make(map[string]bool),
	}
}

// RunRequest describes a sync run trigger. Zero fields fall back to the
// integration's stored sync settings.
type RunRequest struct {
	IntegrationID string
	Operation     Operation
	Policy        integration.ConflictPolicy
	OnlyOnline    *bool
	Filter        *integration.DeviceFilter
}

// Run executes a sync run to completion and returns the sealed run.
//
// Preconditions are checked before any work starts: the integration must
// exist, be a device registry, and not be in the error state. A fatal
// registry failure (cannot reach or authenticate) seals the run as
// failed with zero processed devices and counts towards the
// integration's consecutive failure threshold.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*SyncRun, error) {
	integ, err := o.integrations.GetByID(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !integ.Type.IsRegistry() {
		return nil, fmt.Errorf("%w: %s", integration.ErrNotRegistry, integ.Type)
	}
	if integ.Status == integration.StatusError {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationBlocked, integ.ID)
	}

	if !o.acquire(integ.ID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, integ.ID)
	}
	defer o.release(integ.ID)

	adapter, err := o.adapters.New(integ)
	if err != nil {
		return nil, err
	}

	op := req.Operation
	if op == "" {
		op = OperationForDirection(integ.Sync.Direction)
	}
	switch op {
	case OperationImport, OperationExport, OperationBidirectional:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}

	policy := req.Policy
	if policy == "" {
		policy = integ.Sync.ConflictResolution
	}
	if policy == "" {
		policy = integration.PolicyNewestWins
	}

	onlyOnline := integ.Sync.OnlyOnline
	if req.OnlyOnline != nil {
		onlyOnline = *req.OnlyOnline
	}
	filter := req.Filter
	if filter == nil {
		filter = integ.Sync.DeviceFilter
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout())
	defer cancel()

	lastSync, err := o.runs.LastCompletedAt(runCtx, integ.ID)
	if err != nil {
		return nil, err
	}

	run := &SyncRun{IntegrationID: integ.ID, Operation: op}
	if err := o.runs.Create(runCtx, run); err != nil {
		return nil, err
	}

	o.log.Info("sync run started",
		"run_id", run.ID, "integration_id", integ.ID, "operation", string(op))

	pass := passContext{
		integ:      integ,
		adapter:    adapter,
		policy:     policy,
		onlyOnline: onlyOnline,
		filter:     filter,
		lastSync:   lastSync,
	}

	var fatal bool
	switch op {
	case OperationImport:
		fatal = o.importPhase(runCtx, pass, run)
	case OperationExport:
		fatal = o.exportPhase(runCtx, pass, run)
	case OperationBidirectional:
		fatal = o.bidirectional(runCtx, pass, run)
	}

	o.seal(run, fatal)

	// Sealing must survive the run deadline expiring.
	sealCtx, sealCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sealCancel()

	if err := o.runs.Seal(sealCtx, run); err != nil {
		return nil, err
	}

	o.finish(sealCtx, integ, run, fatal)
	return run, nil
}

// TestConnection verifies an integration's registry credentials and
// reachability without starting a sync run. The outcome is recorded in
// the activity log either way.
func (o *Orchestrator) TestConnection(ctx context.Context, integrationID string) error {
	integ, err := o.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return err
	}
	if !integ.Type.IsRegistry() {
		return fmt.Errorf("%w: %s", integration.ErrNotRegistry, integ.Type)
	}

	adapter, err := o.adapters.New(integ)
	if err != nil {
		return err
	}

	testErr := adapter.TestConnection(ctx)

	entry := &activity.Entry{
		OrganizationID: integ.OrganizationID,
		IntegrationID:  integ.ID,
		Type:           activity.TypeTestConnection,
		Status:         activity.StatusSuccess,
		Message:        "connection test passed",
	}
	if testErr != nil {
		entry.Status = activity.StatusFailure
		entry.Message = fmt.Sprintf("connection test failed: %v", testErr)
	}
	if err := o.activity.Create(ctx, entry); err != nil {
		o.log.Error("recording connection test", "integration_id", integ.ID, "error", err)
	}

	return testErr
}

func (o *Orchestrator) acquire(integrationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[integrationID] {
		return false
	}
	o.inflight[integrationID] = true
	return true
}

func (o *Orchestrator) release(integrationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, integrationID)
}

// passContext carries the per-run parameters through the phases.
type passContext struct {
	integ      *integration.Integration
	adapter    registry.Adapter
	policy     integration.ConflictPolicy
	onlyOnline bool
	filter     *integration.DeviceFilter
	lastSync   time.Time
}

// bidirectional runs an import phase then an export phase, each recorded
// as its own nested run. The parent's counts are the element-wise sums.
// A fatal import aborts the run before the export phase starts.
func (o *Orchestrator) bidirectional(ctx context.Context, pass passContext, run *SyncRun) bool {
	importRun := &SyncRun{IntegrationID: run.IntegrationID, Operation: OperationImport}
	if err := o.runs.Create(ctx, importRun); err != nil {
		run.Errors = appendBounded(run.Errors, &run.ErrorsTruncated, o.cfg.MaxRunErrors,
			RunError{Message: err.Error()})
		return true
	}
	importFatal := o.importPhase(ctx, pass, importRun)
	o.seal(importRun, importFatal)
	if err := o.runs.Seal(ctx, importRun); err != nil {
		o.log.Error("sealing import phase", "run_id", importRun.ID, "error", err)
	}
	run.Import = importRun
	o.merge(run, importRun)

	if importFatal {
		return true
	}

	exportRun := &SyncRun{IntegrationID: run.IntegrationID, Operation: OperationExport}
	if err := o.runs.Create(ctx, exportRun); err != nil {
		run.Errors = appendBounded(run.Errors, &run.ErrorsTruncated, o.cfg.MaxRunErrors,
			RunError{Message: err.Error()})
		return true
	}
	exportFatal := o.exportPhase(ctx, pass, exportRun)
	o.seal(exportRun, exportFatal)
	if err := o.runs.Seal(ctx, exportRun); err != nil {
		o.log.Error("sealing export phase", "run_id", exportRun.ID, "error", err)
	}
	run.Export = exportRun
	o.merge(run, exportRun)

	return exportFatal
}

// merge folds a phase run's counts into the parent.
func (o *Orchestrator) merge(parent, phase *SyncRun) {
	parent.Processed += phase.Processed
	parent.Succeeded += phase.Succeeded
	parent.Failed += phase.Failed
	for _, e := range phase.Errors {
		parent.Errors = appendBounded(parent.Errors, &parent.ErrorsTruncated, o.cfg.MaxRunErrors, e)
	}
	if phase.ErrorsTruncated {
		parent.ErrorsTruncated = true
	}
}

// importPhase pulls the remote registry into the local catalogue.
// Returns true on fatal failure (the registry could not be listed).
func (o *Orchestrator) importPhase(ctx context.Context, pass passContext, run *SyncRun) bool {
	acc := newAccumulator(o.cfg.MaxRunErrors)

	cursor := ""
	for {
		page, err := pass.adapter.ListDevices(ctx, registry.ListOptions{Cursor: cursor, PageSize: listPageSize})
		if err != nil {
			o.log.Error("listing registry devices",
				"run_id", run.ID, "integration_id", pass.integ.ID, "error", err)
			acc.fatal(err)
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.WorkerCount)
		for _, rec := range page.Records {
			rec := rec
			if skipRecord(&rec, pass.onlyOnline, pass.filter) {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					acc.failure(rec.ExternalID, errors.New("sync run deadline exceeded"))
					return nil
				}
				if err := o.importRecord(gctx, pass, &rec); err != nil {
					acc.failure(rec.ExternalID, err)
				} else {
					acc.success()
				}
				return nil
			})
		}
		g.Wait()

		if page.NextCursor == "" || ctx.Err() != nil {
			break
		}
		cursor = page.NextCursor
	}

	acc.drain(run)
	return acc.fatalErr
}

// importRecord reconciles one remote record with the local catalogue.
func (o *Orchestrator) importRecord(ctx context.Context, pass passContext, rec *registry.Record) error {
	if rec.ExternalID == "" {
		return errors.New("missing external device id")
	}
	if rec.Name == "" {
		return errors.New("missing required name")
	}

	local, err := o.devices.GetByExternalID(ctx, pass.integ.OrganizationID, rec.ExternalID)
	if errors.Is(err, device.ErrNotFound) {
		// Fall back to a name match so pre-existing local devices get
		// linked instead of duplicated.
		local, err = o.devices.GetByName(ctx, pass.integ.OrganizationID, rec.Name)
	}
	if errors.Is(err, device.ErrNotFound) {
		return o.createFromRecord(ctx, pass, rec)
	}
	if err != nil {
		return err
	}

	if !BothChanged(local.UpdatedAt, rec.UpdatedAt, pass.lastSync) {
		merged := ApplyRemote(local, rec)
		merged.IntegrationID = &pass.integ.ID
		return o.devices.Update(ctx, merged, true)
	}

	res := Resolve(local, rec, pass.policy)

	conflict := &Conflict{
		DeviceID:       local.ID,
		IntegrationID:  pass.integ.ID,
		LocalSnapshot:  LocalSnapshot(local),
		RemoteSnapshot: RecordSnapshot(rec),
		PolicyApplied:  pass.policy,
	}

	switch res.Winner {
	case WinnerRemote:
		now := time.Now().UTC()
		conflict.Resolution = ResolutionRemote
		conflict.ResolvedAt = &now
		conflict.ResolvedBy = "system"
		if err := o.conflicts.Create(ctx, conflict); err != nil {
			return err
		}
		res.Record.IntegrationID = &pass.integ.ID
		return o.devices.Update(ctx, res.Record, true)
	case WinnerLocal:
		now := time.Now().UTC()
		conflict.Resolution = ResolutionLocal
		conflict.ResolvedAt = &now
		conflict.ResolvedBy = "system"
		return o.conflicts.Create(ctx, conflict)
	default:
		// Manual policy: record a pending conflict, leave local untouched.
		if err := o.conflicts.Create(ctx, conflict); err != nil {
			return err
		}
		o.broadcast("conflict.detected", conflict)
		return nil
	}
}

func (o *Orchestrator) createFromRecord(ctx context.Context, pass passContext, rec *registry.Record) error {
	ext := rec.ExternalID
	status := rec.Status
	if status == "" {
		status = device.StatusUnknown
	}
	d := &device.Device{
		OrganizationID:   pass.integ.OrganizationID,
		Name:             rec.Name,
		IntegrationID:    &pass.integ.ID,
		ExternalDeviceID: &ext,
		Status:           status,
		Shadow:           device.Shadow(rec.Shadow),
		Tags:             rec.Tags,
		FirmwareVersion:  rec.FirmwareVersion,
	}
	if err := o.devices.Create(ctx, d); err != nil {
		return err
	}
	o.broadcast("device.updated", d)
	return nil
}

// exportPhase pushes the local catalogue out to the remote registry.
// Returns true on fatal failure (the registry is unreachable).
func (o *Orchestrator) exportPhase(ctx context.Context, pass passContext, run *SyncRun) bool {
	acc := newAccumulator(o.cfg.MaxRunErrors)

	if err := pass.adapter.TestConnection(ctx); err != nil {
		o.log.Error("registry unreachable for export",
			"run_id", run.ID, "integration_id", pass.integ.ID, "error", err)
		acc.fatal(err)
		acc.drain(run)
		return true
	}

	locals, err := o.devices.List(ctx, pass.integ.OrganizationID, exportFilter(pass))
	if err != nil {
		acc.fatal(err)
		acc.drain(run)
		return true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.WorkerCount)
	for _, d := range locals {
		if skipLocal(&d, pass.filter) {
			continue
		}
		d := d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				acc.failure(d.ID, errors.New("sync run deadline exceeded"))
				return nil
			}
			if err := o.exportDevice(gctx, pass, &d); err != nil {
				acc.failure(d.ID, err)
			} else {
				acc.success()
			}
			return nil
		})
	}
	g.Wait()

	acc.drain(run)
	return false
}

func (o *Orchestrator) exportDevice(ctx context.Context, pass passContext, d *device.Device) error {
	rec := &registry.Record{
		Name:            d.Name,
		Status:          d.Status,
		Shadow:          d.Shadow,
		Tags:            d.Tags,
		FirmwareVersion: d.FirmwareVersion,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.ExternalDeviceID != nil {
		rec.ExternalID = *d.ExternalDeviceID
	}
	if rec.ExternalID == "" {
		rec.ExternalID = d.ID
	}

	if err := pass.adapter.UpsertDevice(ctx, rec); err != nil {
		return err
	}

	// Link the device to this integration on first export.
	if d.ExternalDeviceID == nil || d.IntegrationID == nil {
		ext := rec.ExternalID
		d.ExternalDeviceID = &ext
		d.IntegrationID = &pass.integ.ID
		if err := o.devices.Update(ctx, d, true); err != nil {
			return err
		}
	}

	if len(d.Shadow) > 0 {
		err := pass.adapter.UpdateShadow(ctx, rec.ExternalID, d.Shadow)
		if err != nil && !errors.Is(err, registry.ErrUnsupported) {
			return err
		}
	}
	return nil
}

// exportFilter translates the integration's device filter into a local
// catalogue query.
func exportFilter(pass passContext) device.Filter {
	f := device.Filter{
		IntegrationID: pass.integ.ID,
		OnlyOnline:    pass.onlyOnline,
	}
	if pass.filter != nil {
		f.Tags = pass.filter.Tags
		f.NamePrefix = pass.filter.NamePrefix
	}
	return f
}

// skipRecord applies the only-online and device filters to a remote record.
func skipRecord(rec *registry.Record, onlyOnline bool, filter *integration.DeviceFilter) bool {
	if onlyOnline && rec.Status != device.StatusOnline {
		return true
	}
	if filter == nil {
		return false
	}
	if len(filter.Tags) > 0 && !hasAnyTag(rec.Tags, filter.Tags) {
		return true
	}
	if filter.NamePrefix != "" && !hasPrefix(rec.Name, filter.NamePrefix) {
		return true
	}
	if len(filter.ExternalIDs) > 0 && !containsString(filter.ExternalIDs, rec.ExternalID) {
		return true
	}
	return false
}

// skipLocal applies the external-id narrowing to a local device during
// export. Tag, prefix and only-online narrowing already happened in the
// repository query.
func skipLocal(d *device.Device, filter *integration.DeviceFilter) bool {
	if filter == nil || len(filter.ExternalIDs) == 0 {
		return false
	}
	if d.ExternalDeviceID == nil {
		return true
	}
	return !containsString(filter.ExternalIDs, *d.ExternalDeviceID)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// seal stamps the final status and completion time onto a run.
//
// A fatal registry failure is always failed. Otherwise the status derives
// from the counts: all succeeded is success, a mix is partial, all failed
// is failed. An empty run counts as success.
func (o *Orchestrator) seal(run *SyncRun, fatal bool) {
	now := time.Now().UTC()
	run.CompletedAt = &now

	switch {
	case fatal:
		run.Status = RunStatusFailed
	case run.Failed == 0:
		run.Status = RunStatusSuccess
	case run.Succeeded > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusFailed
	}
}

// finish records the run outcome: activity log, failure accounting and
// the completion event.
func (o *Orchestrator) finish(ctx context.Context, integ *integration.Integration, run *SyncRun, fatal bool) {
	o.log.Info("sync run completed",
		"run_id", run.ID, "integration_id", integ.ID,
		"status", string(run.Status),
		"processed", run.Processed, "succeeded", run.Succeeded, "failed", run.Failed)

	entry := &activity.Entry{
		OrganizationID: integ.OrganizationID,
		IntegrationID:  integ.ID,
		Type:           activity.TypeSync,
		Direction:      string(run.Operation),
		Status:         activityStatus(run.Status),
		Message: fmt.Sprintf("sync %s: %d processed, %d succeeded, %d failed",
			run.Status, run.Processed, run.Succeeded, run.Failed),
		Metadata: map[string]any{
			"run_id":    run.ID,
			"processed": run.Processed,
			"succeeded": run.Succeeded,
			"failed":    run.Failed,
		},
	}
	if err := o.activity.Create(ctx, entry); err != nil {
		o.log.Error("recording sync activity", "run_id", run.ID, "error", err)
	}

	if fatal {
		count, err := o.integrations.RecordFatalRun(ctx, integ.ID)
		if err != nil {
			o.log.Error("recording fatal run", "integration_id", integ.ID, "error", err)
		} else if count >= o.cfg.FailureThreshold {
			o.log.Warn("integration disabled after repeated failures",
				"integration_id", integ.ID, "consecutive_failures", count)
			if err := o.integrations.SetStatus(ctx, integ.ID, integration.StatusError); err != nil {
				o.log.Error("flagging integration", "integration_id", integ.ID, "error", err)
			}
		}
	} else {
		if err := o.integrations.ResetFailures(ctx, integ.ID); err != nil {
			o.log.Error("resetting failure count", "integration_id", integ.ID, "error", err)
		}
	}

	o.broadcast("sync.completed", run)
}

func activityStatus(s RunStatus) string {
	switch s {
	case RunStatusSuccess:
		return activity.StatusSuccess
	case RunStatusPartial:
		return activity.StatusPartial
	default:
		return activity.StatusFailure
	}
}

func (o *Orchestrator) broadcast(event string, payload any) {
	if o.events != nil {
		o.events.Broadcast(event, payload)
	}
}

// ResolveConflict applies a human decision to a pending conflict. A
// remote choice replays the stored remote snapshot onto the device.
func (o *Orchestrator) ResolveConflict(ctx context.Context, conflictID string, choice ConflictResolution, resolvedBy string) (*Conflict, error) {
	conflict, err := o.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	if err := o.conflicts.Resolve(ctx, conflictID, choice, resolvedBy); err != nil {
		return nil, err
	}

	if choice == ResolutionRemote {
		if err := o.applySnapshot(ctx, conflict); err != nil {
			return nil, err
		}
	}

	return o.conflicts.GetByID(ctx, conflictID)
}

// applySnapshot folds a conflict's remote snapshot onto the local device.
func (o *Orchestrator) applySnapshot(ctx context.Context, conflict *Conflict) error {
	d, err := o.devices.GetByID(ctx, conflict.DeviceID)
	if err != nil {
		return err
	}

	snap := conflict.RemoteSnapshot
	if name, ok := snap["name"].(string); ok && name != "" {
		d.Name = name
	}
	if status, ok := snap["status"].(string); ok && status != "" {
		d.Status = device.Status(status)
	}
	if shadow, ok := snap["shadow"].(map[string]any); ok {
		d.Shadow = device.Shadow(shadow)
	}
	if fw, ok := snap["firmware_version"].(string); ok {
		d.FirmwareVersion = &fw
	}
	if tags, ok := snap["tags"].([]any); ok {
		d.Tags = make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				d.Tags = append(d.Tags, s)
			}
		}
	}

	if err := o.devices.Update(ctx, d, true); err != nil {
		return err
	}
	o.broadcast("device.updated", d)
	return nil
}

// accumulator collects per-device outcomes under concurrent workers.
type accumulator struct {
	mu        gosync.Mutex
	processed int
	succeeded int
	failed    int
	errs      []RunError
	truncated bool
	max       int
	fatalErr  bool
}

func newAccumulator(maxErrors int) *accumulator {
	return &accumulator{max: maxErrors}
}

func (a *accumulator) success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processed++
	a.succeeded++
}

func (a *accumulator) failure(deviceID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processed++
	a.failed++
	a.errs = appendBounded(a.errs, &a.truncated, a.max, RunError{DeviceID: deviceID, Message: err.Error()})
}

// fatal marks the run as fatally failed without touching device counts.
func (a *accumulator) fatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatalErr = true
	a.errs = appendBounded(a.errs, &a.truncated, a.max, RunError{Message: err.Error()})
}

// drain writes the accumulated counts onto the run.
func (a *accumulator) drain(run *SyncRun) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run.Processed = a.processed
	run.Succeeded = a.succeeded
	run.Failed = a.failed
	run.Errors = a.errs
	run.ErrorsTruncated = a.truncated
}

// appendBounded appends an error up to the cap, flipping the truncation
// marker once it overflows.
func appendBounded(errs []RunError, truncated *bool, max int, e RunError) []RunError {
	if max > 0 && len(errs) >= max {
		*truncated = true
		return errs
	}
	return append(errs, e)
}
