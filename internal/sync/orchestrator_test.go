package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/registry"
)

// fakeAdapter is a programmable in-memory registry.
type fakeAdapter struct {
	mu       gosync.Mutex
	records  []registry.Record
	listErr  error
	connErr  error
	upserted map[string]registry.Record
	shadows  map[string]map[string]any

	// gate, when set, blocks ListDevices until closed.
	gate chan struct{}
}

func (f *fakeAdapter) ListDevices(ctx context.Context, opts registry.ListOptions) (*registry.Page, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	if opts.Cursor != "" {
		start, _ = strconv.Atoi(opts.Cursor)
	}
	size := opts.PageSize
	if size <= 0 || size > len(f.records) {
		size = len(f.records)
	}
	end := start + size
	if end > len(f.records) {
		end = len(f.records)
	}

	page := &registry.Page{Records: append([]registry.Record{}, f.records[start:end]...)}
	if end < len(f.records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeAdapter) GetDevice(ctx context.Context, externalID string) (*registry.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ExternalID == externalID {
			r := rec
			return &r, nil
		}
	}
	return nil, registry.ErrNotFound
}

func (f *fakeAdapter) UpsertDevice(ctx context.Context, rec *registry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserted == nil {
		f.upserted = make(map[string]registry.Record)
	}
	f.upserted[rec.ExternalID] = *rec
	return nil
}

func (f *fakeAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shadows == nil {
		f.shadows = make(map[string]map[string]any)
	}
	f.shadows[externalID] = shadow
	return nil
}

func (f *fakeAdapter) TestConnection(ctx context.Context) error {
	return f.connErr
}

// fakeFactory hands back a fixed adapter regardless of integration.
type fakeFactory struct {
	adapter registry.Adapter
	err     error
}

func (f *fakeFactory) New(integ *integration.Integration) (registry.Adapter, error) {
	return f.adapter, f.err
}

type engine struct {
	orch         *Orchestrator
	integrations integration.Repository
	devices      device.Repository
	runs         RunRepository
	conflicts    ConflictRepository
	activity     activity.Repository
}

func setupEngineDB(t *testing.T) *sql.DB {
	t.Helper()

	db := setupTestDB(t)

	// Matches migration 20260815_120000_initial_schema
	schema := `
		CREATE TABLE integrations (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			settings TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'active',
			sync_enabled INTEGER NOT NULL DEFAULT 0,
			sync_frequency_minutes INTEGER NOT NULL DEFAULT 60,
			sync_direction TEXT NOT NULL DEFAULT 'import',
			conflict_resolution TEXT NOT NULL DEFAULT 'newest_wins',
			only_online INTEGER NOT NULL DEFAULT 0,
			device_filter TEXT,
			webhook_secret TEXT,
			webhook_url TEXT,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			integration_id TEXT,
			external_device_id TEXT,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unknown',
			shadow TEXT NOT NULL DEFAULT '{}',
			tags TEXT NOT NULL DEFAULT '[]',
			firmware_version TEXT,
			last_seen_online TEXT,
			last_seen_offline TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE UNIQUE INDEX idx_devices_org_external
			ON devices(organization_id, external_device_id)
			WHERE external_device_id IS NOT NULL;

		CREATE TABLE activity_log (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			integration_id TEXT,
			type TEXT NOT NULL,
			direction TEXT NOT NULL DEFAULT 'internal',
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating engine schema: %v", err)
	}
	return db
}

func newEngine(t *testing.T, adapter registry.Adapter) *engine {
	t.Helper()

	db := setupEngineDB(t)
	e := &engine{
		integrations: integration.NewSQLiteRepository(db),
		devices:      device.NewSQLiteRepository(db),
		runs:         NewSQLiteRunRepository(db),
		conflicts:    NewSQLiteConflictRepository(db),
		activity:     activity.NewSQLiteRepository(db),
	}
	e.orch = NewOrchestrator(OrchestratorConfig{
		Integrations: e.integrations,
		Devices:      e.devices,
		Runs:         e.runs,
		Conflicts:    e.conflicts,
		Activity:     e.activity,
		Adapters:     &fakeFactory{adapter: adapter},
		Sync: config.SyncConfig{
			WorkerCount:       4,
			RunTimeoutMinutes: 1,
			MaxRunErrors:      3,
			FailureThreshold:  3,
		},
	})
	return e
}

func seedIntegration(t *testing.T, e *engine, mutate func(*integration.Integration)) *integration.Integration {
	t.Helper()

	integ := &integration.Integration{
		ID:             "int-01",
		OrganizationID: "org-01",
		Type:           integration.TypeGolioth,
		Name:           "production fleet",
		Settings:       integration.Settings{"api_key": "key-1", "project_id": "proj-1"},
		Status:         integration.StatusActive,
		Sync: integration.SyncSettings{
			Enabled:            true,
			FrequencyMinutes:   30,
			Direction:          integration.DirectionImport,
			ConflictResolution: integration.PolicyNewestWins,
		},
	}
	if mutate != nil {
		mutate(integ)
	}
	if err := e.integrations.Create(context.Background(), integ); err != nil {
		t.Fatalf("seeding integration: %v", err)
	}
	return integ
}

func remoteRecords(n int) []registry.Record {
	records := make([]registry.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, registry.Record{
			ExternalID: fmt.Sprintf("ext-%d", i),
			Name:       fmt.Sprintf("sensor-%d", i),
			Status:     device.StatusOnline,
			Shadow:     map[string]any{"index": float64(i)},
		})
	}
	return records
}

func TestRunImportCreatesDevices(t *testing.T) {
	adapter := &fakeAdapter{records: remoteRecords(5)}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)
	ctx := context.Background()

	run, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want success", run.Status)
	}
	if run.Processed != 5 || run.Succeeded != 5 || run.Failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 5/5/0", run.Processed, run.Succeeded, run.Failed)
	}
	if run.CompletedAt == nil {
		t.Error("run not sealed")
	}

	devices, err := e.devices.List(ctx, integ.OrganizationID, device.Filter{})
	if err != nil {
		t.Fatalf("List devices: %v", err)
	}
	if len(devices) != 5 {
		t.Fatalf("got %d local devices, want 5", len(devices))
	}
	for _, d := range devices {
		if d.ExternalDeviceID == nil || d.IntegrationID == nil || *d.IntegrationID != integ.ID {
			t.Errorf("device %s not linked to integration", d.ID)
		}
	}

	t.Run("activity recorded", func(t *testing.T) {
		result, err := e.activity.List(ctx, activity.Filter{
			OrganizationID: integ.OrganizationID,
			Type:           activity.TypeSync,
		})
		if err != nil {
			t.Fatalf("List activity: %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("got %d activity entries, want 1", len(result.Entries))
		}
		if result.Entries[0].Status != activity.StatusSuccess {
			t.Errorf("activity status = %q", result.Entries[0].Status)
		}
	})

	t.Run("rerun is idempotent", func(t *testing.T) {
		again, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if again.Status != RunStatusSuccess {
			t.Errorf("Status = %q, want success", again.Status)
		}
		devices, err := e.devices.List(ctx, integ.OrganizationID, device.Filter{})
		if err != nil {
			t.Fatalf("List devices: %v", err)
		}
		if len(devices) != 5 {
			t.Errorf("got %d local devices after rerun, want 5", len(devices))
		}
	})
}

func TestRunImportPartialFailure(t *testing.T) {
	records := remoteRecords(10)
	records[2].Name = ""       // invalid: no name
	records[6].ExternalID = "" // invalid: no identifier
	adapter := &fakeAdapter{records: records}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)

	run, err := e.orch.Run(context.Background(), RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != RunStatusPartial {
		t.Errorf("Status = %q, want partial", run.Status)
	}
	if run.Processed != 10 || run.Succeeded != 8 || run.Failed != 2 {
		t.Errorf("counts = %d/%d/%d, want 10/8/2", run.Processed, run.Succeeded, run.Failed)
	}
	if run.Processed != run.Succeeded+run.Failed {
		t.Error("processed != succeeded + failed")
	}
	if len(run.Errors) != 2 {
		t.Errorf("got %d errors, want 2", len(run.Errors))
	}
}

func TestRunErrorsBounded(t *testing.T) {
	records := remoteRecords(8)
	for i := range records {
		records[i].Name = ""
	}
	adapter := &fakeAdapter{records: records}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)

	run, err := e.orch.Run(context.Background(), RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Failed != 8 {
		t.Errorf("Failed = %d, want 8", run.Failed)
	}
	if len(run.Errors) != 3 {
		t.Errorf("got %d stored errors, want cap of 3", len(run.Errors))
	}
	if !run.ErrorsTruncated {
		t.Error("ErrorsTruncated = false, want true")
	}
}

func TestRunOnlyOnlineFilter(t *testing.T) {
	records := remoteRecords(4)
	records[1].Status = device.StatusOffline
	records[3].Status = device.StatusOffline
	adapter := &fakeAdapter{records: records}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, func(i *integration.Integration) {
		i.Sync.OnlyOnline = true
	})

	run, err := e.orch.Run(context.Background(), RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Processed != 2 || run.Succeeded != 2 {
		t.Errorf("counts = %d/%d, want 2/2 (offline records skipped)", run.Processed, run.Succeeded)
	}
}

func TestRunBidirectional(t *testing.T) {
	adapter := &fakeAdapter{records: remoteRecords(10)}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, func(i *integration.Integration) {
		i.Sync.Direction = integration.DirectionBidirectional
	})

	run, err := e.orch.Run(context.Background(), RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Operation != OperationBidirectional {
		t.Errorf("Operation = %q", run.Operation)
	}
	if run.Import == nil || run.Export == nil {
		t.Fatal("nested phase runs missing")
	}
	if run.Import.Processed != 10 || run.Import.Succeeded != 10 {
		t.Errorf("import counts = %d/%d, want 10/10", run.Import.Processed, run.Import.Succeeded)
	}
	// The export phase pushes back the devices the import just created.
	if run.Export.Processed != 10 || run.Export.Succeeded != 10 {
		t.Errorf("export counts = %d/%d, want 10/10", run.Export.Processed, run.Export.Succeeded)
	}
	if run.Processed != run.Import.Processed+run.Export.Processed {
		t.Errorf("parent processed = %d, want sum of phases", run.Processed)
	}
	if run.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want success", run.Status)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.upserted) != 10 {
		t.Errorf("registry received %d upserts, want 10", len(adapter.upserted))
	}
}

func TestRunFatalFailure(t *testing.T) {
	adapter := &fakeAdapter{listErr: registry.ErrUnavailable}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		run, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if run.Status != RunStatusFailed {
			t.Errorf("run %d status = %q, want failed", i, run.Status)
		}
		if run.Processed != 0 {
			t.Errorf("run %d processed = %d, want 0", i, run.Processed)
		}
	}

	t.Run("integration flagged after threshold", func(t *testing.T) {
		got, err := e.integrations.GetByID(ctx, integ.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != integration.StatusError {
			t.Errorf("Status = %q, want error after 3 fatal runs", got.Status)
		}
	})

	t.Run("flagged integration refuses runs", func(t *testing.T) {
		_, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
		if !errors.Is(err, ErrIntegrationBlocked) {
			t.Errorf("Run error = %v, want ErrIntegrationBlocked", err)
		}
	})

	t.Run("successful run resets the counter", func(t *testing.T) {
		adapter.listErr = nil
		adapter.records = remoteRecords(1)
		if err := e.integrations.SetStatus(ctx, integ.ID, integration.StatusActive); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}

		if _, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		got, err := e.integrations.GetByID(ctx, integ.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.ConsecutiveFailures != 0 {
			t.Errorf("ConsecutiveFailures = %d, want 0", got.ConsecutiveFailures)
		}
	})
}

func TestRunPreconditions(t *testing.T) {
	adapter := &fakeAdapter{}
	e := newEngine(t, adapter)
	ctx := context.Background()

	t.Run("missing integration", func(t *testing.T) {
		_, err := e.orch.Run(ctx, RunRequest{IntegrationID: "int-missing"})
		if !errors.Is(err, integration.ErrNotFound) {
			t.Errorf("Run error = %v, want integration.ErrNotFound", err)
		}
	})

	t.Run("notification channel", func(t *testing.T) {
		channel := &integration.Integration{
			ID:             "int-slack",
			OrganizationID: "org-01",
			Type:           integration.TypeSlack,
			Name:           "alerts",
			Settings:       integration.Settings{"webhook_url": "https://hooks.example.com/x"},
			Status:         integration.StatusActive,
		}
		if err := e.integrations.Create(ctx, channel); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := e.orch.Run(ctx, RunRequest{IntegrationID: channel.ID})
		if !errors.Is(err, integration.ErrNotRegistry) {
			t.Errorf("Run error = %v, want integration.ErrNotRegistry", err)
		}
	})

	t.Run("invalid operation", func(t *testing.T) {
		seedIntegration(t, e, nil)
		_, err := e.orch.Run(ctx, RunRequest{IntegrationID: "int-01", Operation: "mirror"})
		if !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("Run error = %v, want ErrInvalidOperation", err)
		}
	})
}

func TestRunAlreadyRunning(t *testing.T) {
	gate := make(chan struct{})
	adapter := &fakeAdapter{records: remoteRecords(1), gate: gate}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
		done <- err
	}()

	<-started
	// Wait for the first run to take the in-flight slot.
	deadline := time.After(2 * time.Second)
	for {
		e.orch.mu.Lock()
		held := e.orch.inflight[integ.ID]
		e.orch.mu.Unlock()
		if held {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run error = %v, want ErrAlreadyRunning", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}

	t.Run("slot released after completion", func(t *testing.T) {
		if _, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID}); err != nil {
			t.Errorf("Run after release: %v", err)
		}
	})
}

func TestRunManualConflict(t *testing.T) {
	fw := "2.0.0"
	adapter := &fakeAdapter{records: []registry.Record{{
		ExternalID:      "ext-1",
		Name:            "sensor-1-renamed",
		Status:          device.StatusOffline,
		Shadow:          map[string]any{"temp": 25.0},
		FirmwareVersion: &fw,
		UpdatedAt:       time.Now().UTC(),
	}}}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, func(i *integration.Integration) {
		i.Sync.ConflictResolution = integration.PolicyManual
	})
	ctx := context.Background()

	ext := "ext-1"
	local := &device.Device{
		OrganizationID:   integ.OrganizationID,
		Name:             "sensor-1",
		IntegrationID:    &integ.ID,
		ExternalDeviceID: &ext,
		Status:           device.StatusOnline,
		Shadow:           device.Shadow{"temp": 21.0},
	}
	if err := e.devices.Create(ctx, local); err != nil {
		t.Fatalf("Create device: %v", err)
	}

	run, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want success (manual conflicts are not failures)", run.Status)
	}

	pending, err := e.conflicts.ListPending(ctx, integ.ID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending conflicts, want 1", len(pending))
	}
	conflict := pending[0]
	if conflict.PolicyApplied != integration.PolicyManual {
		t.Errorf("PolicyApplied = %q", conflict.PolicyApplied)
	}

	t.Run("local untouched while pending", func(t *testing.T) {
		got, err := e.devices.GetByID(ctx, local.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != "sensor-1" || got.Status != device.StatusOnline {
			t.Errorf("device changed while conflict pending: %q %q", got.Name, got.Status)
		}
	})

	t.Run("resolve remote applies snapshot", func(t *testing.T) {
		resolved, err := e.orch.ResolveConflict(ctx, conflict.ID, ResolutionRemote, "user-1")
		if err != nil {
			t.Fatalf("ResolveConflict: %v", err)
		}
		if resolved.Resolution != ResolutionRemote || resolved.ResolvedBy != "user-1" {
			t.Errorf("resolution = %q by %q", resolved.Resolution, resolved.ResolvedBy)
		}

		got, err := e.devices.GetByID(ctx, local.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != "sensor-1-renamed" {
			t.Errorf("Name = %q, want remote name applied", got.Name)
		}
		if got.Status != device.StatusOffline {
			t.Errorf("Status = %q, want offline", got.Status)
		}
		if got.Shadow["temp"] != 25.0 {
			t.Errorf("Shadow = %v", got.Shadow)
		}
		if got.FirmwareVersion == nil || *got.FirmwareVersion != "2.0.0" {
			t.Errorf("FirmwareVersion = %v", got.FirmwareVersion)
		}
	})

	t.Run("resolve twice fails", func(t *testing.T) {
		_, err := e.orch.ResolveConflict(ctx, conflict.ID, ResolutionLocal, "user-2")
		if !errors.Is(err, ErrConflictResolved) {
			t.Errorf("ResolveConflict error = %v, want ErrConflictResolved", err)
		}
	})
}

func TestRunLocalWinsLogsConflict(t *testing.T) {
	adapter := &fakeAdapter{records: []registry.Record{{
		ExternalID: "ext-1",
		Name:       "sensor-1-renamed",
		Status:     device.StatusOffline,
		UpdatedAt:  time.Now().UTC(),
	}}}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, func(i *integration.Integration) {
		i.Sync.ConflictResolution = integration.PolicyLocalWins
	})
	ctx := context.Background()

	ext := "ext-1"
	local := &device.Device{
		OrganizationID:   integ.OrganizationID,
		Name:             "sensor-1",
		IntegrationID:    &integ.ID,
		ExternalDeviceID: &ext,
		Status:           device.StatusOnline,
	}
	if err := e.devices.Create(ctx, local); err != nil {
		t.Fatalf("Create device: %v", err)
	}

	run, err := e.orch.Run(ctx, RunRequest{IntegrationID: integ.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want success", run.Status)
	}

	got, err := e.devices.GetByID(ctx, local.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "sensor-1" {
		t.Errorf("Name = %q, local edit should have survived", got.Name)
	}

	// The discarded remote change is still auditable.
	history, err := e.conflicts.ListByDevice(ctx, local.ID)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(history))
	}
	if history[0].Resolution != ResolutionLocal {
		t.Errorf("Resolution = %q, want local (auto-resolved)", history[0].Resolution)
	}
	if history[0].ResolvedAt == nil {
		t.Error("ResolvedAt not stamped on auto-resolved conflict")
	}

	pending, err := e.conflicts.ListPending(ctx, integ.ID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestConnectionCheck(t *testing.T) {
	adapter := &fakeAdapter{}
	e := newEngine(t, adapter)
	integ := seedIntegration(t, e, nil)
	ctx := context.Background()

	if err := e.orch.TestConnection(ctx, integ.ID); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}

	t.Run("outcome logged", func(t *testing.T) {
		result, err := e.activity.List(ctx, activity.Filter{
			OrganizationID: integ.OrganizationID,
			Type:           activity.TypeTestConnection,
		})
		if err != nil {
			t.Fatalf("List activity: %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("got %d activity entries, want 1", len(result.Entries))
		}
		if result.Entries[0].Status != activity.StatusSuccess {
			t.Errorf("activity status = %q", result.Entries[0].Status)
		}
	})

	t.Run("unreachable registry", func(t *testing.T) {
		adapter.connErr = errors.New("dial tcp: connection refused")
		defer func() { adapter.connErr = nil }()

		if err := e.orch.TestConnection(ctx, integ.ID); err == nil {
			t.Fatal("TestConnection should fail")
		}

		result, err := e.activity.List(ctx, activity.Filter{
			OrganizationID: integ.OrganizationID,
			Type:           activity.TypeTestConnection,
			Status:         activity.StatusFailure,
		})
		if err != nil {
			t.Fatalf("List activity: %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("got %d failure entries, want 1", len(result.Entries))
		}
	})

	t.Run("channel integration rejected", func(t *testing.T) {
		seedIntegration(t, e, func(i *integration.Integration) {
			i.ID = "int-slack"
			i.Type = integration.TypeSlack
		})
		err := e.orch.TestConnection(ctx, "int-slack")
		if !errors.Is(err, integration.ErrNotRegistry) {
			t.Errorf("err = %v, want ErrNotRegistry", err)
		}
	})
}
