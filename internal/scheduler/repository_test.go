package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/netneural/sync-core/internal/integration"
)

// setupTestDB creates an in-memory SQLite database with the schedules schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	// Matches migration 20260815_120000_initial_schema
	schema := `
		CREATE TABLE sync_schedules (
			integration_id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 0,
			frequency_minutes INTEGER NOT NULL DEFAULT 60,
			direction TEXT NOT NULL DEFAULT 'import',
			conflict_resolution TEXT NOT NULL DEFAULT 'newest_wins',
			only_online INTEGER NOT NULL DEFAULT 0,
			device_filter TEXT,
			next_run_at TEXT NOT NULL,
			running INTEGER NOT NULL DEFAULT 0,
			lease_expires_at TEXT,
			last_run_at TEXT,
			last_run_status TEXT
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testSchedule(nextRunAt time.Time) *Schedule {
	return &Schedule{
		IntegrationID:      "int-01",
		OrganizationID:     "org-01",
		Enabled:            true,
		FrequencyMinutes:   30,
		Direction:          integration.DirectionImport,
		ConflictResolution: integration.PolicyNewestWins,
		NextRunAt:          nextRunAt,
	}
}

func TestScheduleUpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	next := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s := testSchedule(next)
	s.DeviceFilter = &integration.DeviceFilter{Tags: []string{"hvac"}}
	if err := repo.Upsert(ctx, s); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "int-01")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Enabled || got.FrequencyMinutes != 30 {
		t.Errorf("schedule = %+v", got)
	}
	if !got.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
	if got.DeviceFilter == nil || len(got.DeviceFilter.Tags) != 1 {
		t.Errorf("DeviceFilter = %+v", got.DeviceFilter)
	}

	t.Run("upsert replaces config", func(t *testing.T) {
		s.FrequencyMinutes = 60
		s.Direction = integration.DirectionBidirectional
		if err := repo.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.Get(ctx, "int-01")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.FrequencyMinutes != 60 || got.Direction != integration.DirectionBidirectional {
			t.Errorf("schedule = %+v", got)
		}
	})

	t.Run("zero next run initialised", func(t *testing.T) {
		fresh := testSchedule(time.Time{})
		fresh.IntegrationID = "int-02"
		before := time.Now().UTC()
		if err := repo.Upsert(ctx, fresh); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.Get(ctx, "int-02")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.NextRunAt.Before(before) {
			t.Errorf("NextRunAt = %v, want initialised in the future", got.NextRunAt)
		}
	})

	t.Run("missing schedule", func(t *testing.T) {
		if _, err := repo.Get(ctx, "int-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get error = %v, want ErrNotFound", err)
		}
	})
}

func TestScheduleDue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	overdue := testSchedule(now.Add(-time.Minute))
	future := testSchedule(now.Add(time.Hour))
	future.IntegrationID = "int-02"
	disabled := testSchedule(now.Add(-time.Hour))
	disabled.IntegrationID = "int-03"
	disabled.Enabled = false

	for _, s := range []*Schedule{overdue, future, disabled} {
		if err := repo.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	due, err := repo.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].IntegrationID != "int-01" {
		t.Fatalf("due = %+v, want only int-01", due)
	}
}

func TestScheduleClaimAndRelease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, testSchedule(now.Add(-time.Minute))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	claimed, err := repo.Claim(ctx, "int-01", now, 20*time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	t.Run("second claim loses while leased", func(t *testing.T) {
		claimed, err := repo.Claim(ctx, "int-01", now.Add(time.Minute), 20*time.Minute)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed {
			t.Error("second claim won against a live lease")
		}
	})

	t.Run("expired lease is reclaimable", func(t *testing.T) {
		claimed, err := repo.Claim(ctx, "int-01", now.Add(25*time.Minute), 20*time.Minute)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if !claimed {
			t.Error("expired lease should be reclaimable")
		}
	})

	t.Run("release advances the cursor", func(t *testing.T) {
		ranAt := now.Add(26 * time.Minute)
		if err := repo.Release(ctx, "int-01", ranAt, "success"); err != nil {
			t.Fatalf("Release: %v", err)
		}

		got, err := repo.Get(ctx, "int-01")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Running {
			t.Error("Running = true after release")
		}
		if got.LeaseExpiresAt != nil {
			t.Errorf("LeaseExpiresAt = %v, want nil", got.LeaseExpiresAt)
		}
		wantNext := ranAt.Add(30 * time.Minute)
		if !got.NextRunAt.Equal(wantNext) {
			t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
		}
		if got.LastRunStatus != "success" || got.LastRunAt == nil {
			t.Errorf("last run = %q at %v", got.LastRunStatus, got.LastRunAt)
		}
	})

	t.Run("released schedule claimable again", func(t *testing.T) {
		claimed, err := repo.Claim(ctx, "int-01", now.Add(time.Hour), 20*time.Minute)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if !claimed {
			t.Error("released schedule should be claimable")
		}
	})

	t.Run("disabled schedule not claimable", func(t *testing.T) {
		s := testSchedule(now)
		s.IntegrationID = "int-off"
		s.Enabled = false
		if err := repo.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		claimed, err := repo.Claim(ctx, "int-off", now, 20*time.Minute)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed {
			t.Error("disabled schedule should not be claimable")
		}
	})
}

func TestScheduleDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testSchedule(time.Now().UTC())); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Delete(ctx, "int-01"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "int-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
