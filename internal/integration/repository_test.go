package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the integrations schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

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
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testIntegration creates a valid Golioth integration for tests.
func testIntegration(id string) *Integration {
	return &Integration{
		ID:             id,
		OrganizationID: "org-01",
		Type:           TypeGolioth,
		Name:           "Production Fleet",
		Settings: Settings{
			"api_key":    "key-123",
			"project_id": "prod-fleet",
		},
		Status: StatusActive,
		Sync: SyncSettings{
			Enabled:            true,
			FrequencyMinutes:   30,
			Direction:          DirectionImport,
			ConflictResolution: PolicyNewestWins,
		},
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		integ := testIntegration("int-01")
		secret := "whsec-abc"
		integ.WebhookSecret = &secret
		integ.Sync.DeviceFilter = &DeviceFilter{Tags: []string{"cold-chain"}}

		if err := repo.Create(ctx, integ); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.GetByID(ctx, "int-01")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Type != TypeGolioth {
			t.Errorf("Type = %q, want golioth", got.Type)
		}
		if got.Settings.String("project_id") != "prod-fleet" {
			t.Errorf("Settings project_id = %q", got.Settings.String("project_id"))
		}
		if got.WebhookSecret == nil || *got.WebhookSecret != "whsec-abc" {
			t.Errorf("WebhookSecret = %v, want whsec-abc", got.WebhookSecret)
		}
		if got.Sync.DeviceFilter == nil || len(got.Sync.DeviceFilter.Tags) != 1 {
			t.Errorf("DeviceFilter = %+v, want one tag", got.Sync.DeviceFilter)
		}
		if !got.Sync.Enabled || got.Sync.FrequencyMinutes != 30 {
			t.Errorf("Sync = %+v", got.Sync)
		}
	})

	t.Run("duplicate ID", func(t *testing.T) {
		integ := testIntegration("int-01")
		err := repo.Create(ctx, integ)
		if !errors.Is(err, ErrExists) {
			t.Errorf("expected ErrExists, got: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "int-missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("invalid integration rejected", func(t *testing.T) {
		integ := testIntegration("int-02")
		integ.Type = "ftp"
		err := repo.Create(ctx, integ)
		if !errors.Is(err, ErrInvalidType) {
			t.Errorf("expected ErrInvalidType, got: %v", err)
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	golioth := testIntegration("int-01")
	if err := repo.Create(ctx, golioth); err != nil {
		t.Fatalf("Create: %v", err)
	}

	slack := &Integration{
		ID:             "int-02",
		OrganizationID: "org-01",
		Type:           TypeSlack,
		Name:           "Alerts Channel",
		Settings:       Settings{"webhook_url": "https://hooks.slack.com/x"},
		Sync:           SyncSettings{FrequencyMinutes: 60, Direction: DirectionImport, ConflictResolution: PolicyNewestWins},
	}
	if err := repo.Create(ctx, slack); err != nil {
		t.Fatalf("Create slack: %v", err)
	}

	otherOrg := testIntegration("int-03")
	otherOrg.OrganizationID = "org-02"
	if err := repo.Create(ctx, otherOrg); err != nil {
		t.Fatalf("Create other org: %v", err)
	}

	t.Run("list scoped to organization", func(t *testing.T) {
		got, err := repo.List(ctx, "org-01")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List returned %d integrations, want 2", len(got))
		}
	})

	t.Run("registries excludes channels", func(t *testing.T) {
		got, err := repo.ListRegistries(ctx, "org-01")
		if err != nil {
			t.Fatalf("ListRegistries: %v", err)
		}
		if len(got) != 1 || got[0].Type != TypeGolioth {
			t.Fatalf("ListRegistries = %+v, want just the Golioth integration", got)
		}
	})
}

func TestSQLiteRepository_StatusAndFailures(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testIntegration("int-01")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("set status", func(t *testing.T) {
		if err := repo.SetStatus(ctx, "int-01", StatusError); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		got, err := repo.GetByID(ctx, "int-01")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != StatusError {
			t.Errorf("Status = %q, want error", got.Status)
		}
	})

	t.Run("set status missing integration", func(t *testing.T) {
		err := repo.SetStatus(ctx, "int-missing", StatusActive)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("failure counter", func(t *testing.T) {
		for want := 1; want <= 3; want++ {
			got, err := repo.RecordFatalRun(ctx, "int-01")
			if err != nil {
				t.Fatalf("RecordFatalRun: %v", err)
			}
			if got != want {
				t.Errorf("RecordFatalRun = %d, want %d", got, want)
			}
		}

		if err := repo.ResetFailures(ctx, "int-01"); err != nil {
			t.Fatalf("ResetFailures: %v", err)
		}
		got, err := repo.GetByID(ctx, "int-01")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.ConsecutiveFailures != 0 {
			t.Errorf("ConsecutiveFailures = %d, want 0", got.ConsecutiveFailures)
		}
	})
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	integ := testIntegration("int-01")
	if err := repo.Create(ctx, integ); err != nil {
		t.Fatalf("Create: %v", err)
	}

	integ.Name = "Renamed Fleet"
	integ.Sync.Direction = DirectionBidirectional
	if err := repo.Update(ctx, integ); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByID(ctx, "int-01")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Renamed Fleet" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Sync.Direction != DirectionBidirectional {
		t.Errorf("Direction = %q", got.Sync.Direction)
	}

	t.Run("update missing integration", func(t *testing.T) {
		missing := testIntegration("int-missing")
		err := repo.Update(ctx, missing)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}
