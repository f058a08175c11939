// Package activity provides access to the activity_log table for
// recording and querying integration activity history.
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Activity types.
const (
	TypeSync           = "sync"
	TypeTestConnection = "test_connection"
	TypeWebhook        = "webhook"
	TypeNotification   = "notification"
	TypeConflict       = "conflict"
)

// Activity statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusPartial = "partial"
)

// Entry represents a single activity log record.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	IntegrationID  string         `json:"integration_id,omitempty"`
	Type           string         `json:"type"`
	Direction      string         `json:"direction"`
	Status         string         `json:"status"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Filter controls which activity entries to return.
type Filter struct {
	OrganizationID string // required: scope to an organization
	IntegrationID  string // optional: filter by integration
	Type           string // optional: filter by activity type
	Status         string // optional: filter by status
	Limit          int    // default 50, max 200
	Offset         int    // pagination offset
}

// ListResult contains the paginated activity results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for activity log operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository reads and writes activity entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new activity log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new activity entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "act-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Direction == "" {
		entry.Direction = "internal"
	}

	var metadataJSON *string
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling activity metadata: %w", err)
		}
		s := string(b)
		metadataJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, organization_id, integration_id, type, direction, status, message, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrganizationID,
		nullableString(entry.IntegrationID),
		entry.Type, entry.Direction, entry.Status, entry.Message,
		metadataJSON,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting activity entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns activity entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	conditions := []string{"organization_id = ?"}
	args := []any{filter.OrganizationID}

	if filter.IntegrationID != "" {
		conditions = append(conditions, "integration_id = ?")
		args = append(args, filter.IntegrationID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// WHERE clause is built from parameterised conditions (? placeholders) — no user input in SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM activity_log %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting activity entries: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, organization_id, integration_id, type, direction, status, message, metadata, created_at FROM activity_log %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var integrationID, metadataJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.OrganizationID, &integrationID,
			&entry.Type, &entry.Direction, &entry.Status, &entry.Message,
			&metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}

		if integrationID.Valid {
			entry.IntegrationID = integrationID.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			var metadata map[string]any
			if json.Unmarshal([]byte(metadataJSON.String), &metadata) == nil {
				entry.Metadata = metadata
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing activity timestamp %q: %w", createdAt, err)
		}
		entry.CreatedAt = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
