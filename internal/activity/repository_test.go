package activity

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the activity_log schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	// Matches migration 20260815_120000_initial_schema
	schema := `
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
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	entries := []*Entry{
		{
			OrganizationID: "org-01",
			IntegrationID:  "int-01",
			Type:           TypeSync,
			Direction:      "import",
			Status:         StatusSuccess,
			Message:        "sync completed",
			Metadata:       map[string]any{"processed": float64(12)},
		},
		{
			OrganizationID: "org-01",
			IntegrationID:  "int-01",
			Type:           TypeSync,
			Direction:      "import",
			Status:         StatusFailure,
			Message:        "registry unavailable",
		},
		{
			OrganizationID: "org-01",
			Type:           TypeNotification,
			Status:         StatusSuccess,
			Message:        "alert delivered",
		},
		{
			OrganizationID: "org-02",
			Type:           TypeSync,
			Status:         StatusSuccess,
			Message:        "other org",
		},
	}

	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if e.ID == "" {
			t.Error("Create did not assign an ID")
		}
	}

	t.Run("scoped to organization", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{OrganizationID: "org-01"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if result.Total != 3 || len(result.Entries) != 3 {
			t.Fatalf("Total = %d, entries = %d, want 3", result.Total, len(result.Entries))
		}
	})

	t.Run("filter by type and status", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{
			OrganizationID: "org-01",
			Type:           TypeSync,
			Status:         StatusFailure,
		})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(result.Entries))
		}
		if result.Entries[0].Message != "registry unavailable" {
			t.Errorf("Message = %q", result.Entries[0].Message)
		}
	})

	t.Run("filter by integration", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{OrganizationID: "org-01", IntegrationID: "int-01"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(result.Entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(result.Entries))
		}
	})

	t.Run("metadata round trip", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{
			OrganizationID: "org-01",
			Type:           TypeSync,
			Status:         StatusSuccess,
		})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(result.Entries))
		}
		if result.Entries[0].Metadata["processed"] != float64(12) {
			t.Errorf("Metadata = %v", result.Entries[0].Metadata)
		}
	})

	t.Run("limit clamping", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{OrganizationID: "org-01", Limit: 1000})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if result.Limit != 200 {
			t.Errorf("Limit = %d, want 200", result.Limit)
		}
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{OrganizationID: "org-none"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if result.Entries == nil || len(result.Entries) != 0 {
			t.Errorf("Entries = %v, want empty slice", result.Entries)
		}
	})
}
