package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for integration persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an integration by its unique identifier.
	// Returns ErrNotFound if the integration does not exist.
	GetByID(ctx context.Context, id string) (*Integration, error)

	// List retrieves all integrations for an organization.
	List(ctx context.Context, organizationID string) ([]Integration, error)

	// ListRegistries retrieves all device-registry integrations for an organization.
	ListRegistries(ctx context.Context, organizationID string) ([]Integration, error)

	// Create inserts a new integration.
	// Returns ErrExists if an integration with the same ID already exists.
	Create(ctx context.Context, integ *Integration) error

	// Update modifies an existing integration.
	// Returns ErrNotFound if the integration does not exist.
	Update(ctx context.Context, integ *Integration) error

	// Delete removes an integration by ID.
	Delete(ctx context.Context, id string) error

	// SetStatus updates only the status column.
	SetStatus(ctx context.Context, id string, status Status) error

	// RecordFatalRun increments the consecutive failure counter and returns
	// the new count.
	RecordFatalRun(ctx context.Context, id string) (int, error)

	// ResetFailures zeroes the consecutive failure counter.
	ResetFailures(ctx context.Context, id string) error
}

// GenerateID creates a new integration ID.
func GenerateID() string {
	return "int-" + uuid.NewString()
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const integrationColumns = `
	id, organization_id, type, name, settings, status,
	sync_enabled, sync_frequency_minutes, sync_direction, conflict_resolution,
	only_online, device_filter, webhook_secret, webhook_url,
	consecutive_failures, created_at, updated_at`

// GetByID retrieves an integration by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Integration, error) {
	query := `SELECT` + integrationColumns + ` FROM integrations WHERE id = ?`

	integ, err := scanIntegration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying integration by id: %w", err)
	}
	return integ, nil
}

// List retrieves all integrations for an organization.
func (r *SQLiteRepository) List(ctx context.Context, organizationID string) ([]Integration, error) {
	query := `SELECT` + integrationColumns + ` FROM integrations WHERE organization_id = ? ORDER BY name`
	return r.queryIntegrations(ctx, query, organizationID)
}

// ListRegistries retrieves all device-registry integrations for an organization.
func (r *SQLiteRepository) ListRegistries(ctx context.Context, organizationID string) ([]Integration, error) {
	query := `SELECT` + integrationColumns + `
		FROM integrations
		WHERE organization_id = ? AND type IN ('golioth', 'aws_iot', 'azure_iot', 'google_iot', 'mqtt')
		ORDER BY name`
	return r.queryIntegrations(ctx, query, organizationID)
}

// Create inserts a new integration.
func (r *SQLiteRepository) Create(ctx context.Context, integ *Integration) error {
	if err := Validate(integ); err != nil {
		return err
	}

	if integ.ID == "" {
		integ.ID = GenerateID()
	}
	if integ.Status == "" {
		integ.Status = StatusActive
	}

	settingsJSON, err := json.Marshal(integ.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}

	filterJSON, err := marshalFilter(integ.Sync.DeviceFilter)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now

	query := `
		INSERT INTO integrations (
			id, organization_id, type, name, settings, status,
			sync_enabled, sync_frequency_minutes, sync_direction, conflict_resolution,
			only_online, device_filter, webhook_secret, webhook_url,
			consecutive_failures, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		integ.ID,
		integ.OrganizationID,
		string(integ.Type),
		integ.Name,
		string(settingsJSON),
		string(integ.Status),
		boolToInt(integ.Sync.Enabled),
		integ.Sync.FrequencyMinutes,
		string(integ.Sync.Direction),
		string(integ.Sync.ConflictResolution),
		boolToInt(integ.Sync.OnlyOnline),
		filterJSON,
		nullableString(integ.WebhookSecret),
		nullableString(integ.WebhookURL),
		integ.ConsecutiveFailures,
		integ.CreatedAt.Format(time.RFC3339),
		integ.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting integration: %w", err)
	}

	return nil
}

// Update modifies an existing integration.
func (r *SQLiteRepository) Update(ctx context.Context, integ *Integration) error {
	if err := Validate(integ); err != nil {
		return err
	}

	settingsJSON, err := json.Marshal(integ.Settings)
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}

	filterJSON, err := marshalFilter(integ.Sync.DeviceFilter)
	if err != nil {
		return err
	}

	integ.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE integrations SET
			name = ?, settings = ?, status = ?,
			sync_enabled = ?, sync_frequency_minutes = ?, sync_direction = ?,
			conflict_resolution = ?, only_online = ?, device_filter = ?,
			webhook_secret = ?, webhook_url = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		integ.Name,
		string(settingsJSON),
		string(integ.Status),
		boolToInt(integ.Sync.Enabled),
		integ.Sync.FrequencyMinutes,
		string(integ.Sync.Direction),
		string(integ.Sync.ConflictResolution),
		boolToInt(integ.Sync.OnlyOnline),
		filterJSON,
		nullableString(integ.WebhookSecret),
		nullableString(integ.WebhookURL),
		integ.UpdatedAt.Format(time.RFC3339),
		integ.ID,
	)
	if err != nil {
		return fmt.Errorf("updating integration: %w", err)
	}

	return requireRowsAffected(result, "updating integration")
}

// Delete removes an integration by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM integrations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}
	return requireRowsAffected(result, "deleting integration")
}

// SetStatus updates only the status column.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?",
		string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating integration status: %w", err)
	}
	return requireRowsAffected(result, "updating integration status")
}

// RecordFatalRun increments the consecutive failure counter and returns the new count.
func (r *SQLiteRepository) RecordFatalRun(ctx context.Context, id string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE integrations SET consecutive_failures = consecutive_failures + 1, updated_at = ? WHERE id = ?",
		now, id,
	)
	if err != nil {
		return 0, fmt.Errorf("incrementing failure counter: %w", err)
	}
	if err := requireRowsAffected(result, "incrementing failure counter"); err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRowContext(ctx,
		"SELECT consecutive_failures FROM integrations WHERE id = ?", id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reading failure counter: %w", err)
	}
	return count, nil
}

// ResetFailures zeroes the consecutive failure counter.
func (r *SQLiteRepository) ResetFailures(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE integrations SET consecutive_failures = 0 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("resetting failure counter: %w", err)
	}
	return requireRowsAffected(result, "resetting failure counter")
}

// queryIntegrations executes a query and returns a slice of integrations.
func (r *SQLiteRepository) queryIntegrations(ctx context.Context, query string, args ...any) ([]Integration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var integrations []Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		integrations = append(integrations, *integ)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating integrations: %w", err)
	}

	return integrations, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanIntegration scans a row into an Integration.
func scanIntegration(scanner rowScanner) (*Integration, error) {
	var i Integration
	var integType, status, direction, policy string
	var settingsJSON string
	var filterJSON, webhookSecret, webhookURL sql.NullString
	var syncEnabled, onlyOnline int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&i.ID,
		&i.OrganizationID,
		&integType,
		&i.Name,
		&settingsJSON,
		&status,
		&syncEnabled,
		&i.Sync.FrequencyMinutes,
		&direction,
		&policy,
		&onlyOnline,
		&filterJSON,
		&webhookSecret,
		&webhookURL,
		&i.ConsecutiveFailures,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Type = Type(integType)
	i.Status = Status(status)
	i.Sync.Enabled = syncEnabled != 0
	i.Sync.Direction = Direction(direction)
	i.Sync.ConflictResolution = ConflictPolicy(policy)
	i.Sync.OnlyOnline = onlyOnline != 0

	if webhookSecret.Valid {
		i.WebhookSecret = &webhookSecret.String
	}
	if webhookURL.Valid {
		i.WebhookURL = &webhookURL.String
	}

	if err := json.Unmarshal([]byte(settingsJSON), &i.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}

	if filterJSON.Valid && filterJSON.String != "" {
		var filter DeviceFilter
		if err := json.Unmarshal([]byte(filterJSON.String), &filter); err != nil {
			return nil, fmt.Errorf("unmarshalling device filter: %w", err)
		}
		i.Sync.DeviceFilter = &filter
	}

	var parseErr error
	i.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	i.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &i, nil
}

// marshalFilter serialises a device filter, returning a NULL-able value.
func marshalFilter(f *DeviceFilter) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling device filter: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// requireRowsAffected converts a zero-row result into ErrNotFound.
func requireRowsAffected(result sql.Result, op string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: checking rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
