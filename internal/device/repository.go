package device

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

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByExternalID retrieves the device linked to an external registry
	// identifier within an organization.
	GetByExternalID(ctx context.Context, organizationID, externalDeviceID string) (*Device, error)

	// GetByName retrieves a device by exact name within an organization.
	// Used as a fallback match when a remote record carries no known
	// external identifier. Returns ErrNotFound if no device matches.
	GetByName(ctx context.Context, organizationID, name string) (*Device, error)

	// List retrieves devices for an organization, narrowed by the filter.
	List(ctx context.Context, organizationID string, filter Filter) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Update modifies an existing device and increments its version.
	// Returns ErrStaleWrite if the stored row was modified after the
	// given device was read, unless force is set.
	Update(ctx context.Context, d *Device, force bool) error

	// Upsert inserts or updates a device keyed on its external identifier.
	// Returns true when a new row was created.
	Upsert(ctx context.Context, d *Device) (bool, error)

	// SetStatus updates connectivity status and the matching last-seen timestamp.
	SetStatus(ctx context.Context, id string, status Status, seenAt time.Time) error

	// Delete removes a device by ID.
	Delete(ctx context.Context, id string) error
}

// GenerateID creates a new device ID.
func GenerateID() string {
	return "dev-" + uuid.NewString()
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `
	id, organization_id, integration_id, external_device_id, name, status,
	shadow, tags, firmware_version, last_seen_online, last_seen_offline,
	version, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByExternalID retrieves the device linked to an external registry identifier.
func (r *SQLiteRepository) GetByExternalID(ctx context.Context, organizationID, externalDeviceID string) (*Device, error) {
	query := `SELECT` + deviceColumns + `
		FROM devices
		WHERE organization_id = ? AND external_device_id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, organizationID, externalDeviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by external id: %w", err)
	}
	return d, nil
}

// GetByName retrieves a device by exact name within an organization.
func (r *SQLiteRepository) GetByName(ctx context.Context, organizationID, name string) (*Device, error) {
	query := `SELECT` + deviceColumns + `
		FROM devices
		WHERE organization_id = ? AND name = ?
		ORDER BY created_at
		LIMIT 1`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, organizationID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return d, nil
}

// List retrieves devices for an organization, narrowed by the filter.
// Integration and status narrowing happen in SQL; tag and prefix matching
// happen in memory because tags are stored as a JSON list.
func (r *SQLiteRepository) List(ctx context.Context, organizationID string, filter Filter) ([]Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE organization_id = ?`
	args := []any{organizationID}

	if filter.IntegrationID != "" {
		query += ` AND integration_id = ?`
		args = append(args, filter.IntegrationID)
	}
	if filter.OnlyOnline {
		query += ` AND status = 'online'`
	}
	query += ` ORDER BY name`

	devices, err := r.queryDevices(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	if len(filter.Tags) == 0 && filter.NamePrefix == "" {
		return devices, nil
	}

	filtered := devices[:0]
	for i := range devices {
		if devices[i].Matches(filter) {
			filtered = append(filtered, devices[i])
		}
	}
	return filtered, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := validate(d); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Status == "" {
		d.Status = StatusUnknown
	}
	if d.Version == 0 {
		d.Version = 1
	}

	shadowJSON, tagsJSON, err := marshalDocs(d)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, organization_id, integration_id, external_device_id, name, status,
			shadow, tags, firmware_version, last_seen_online, last_seen_offline,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.OrganizationID,
		nullableString(d.IntegrationID),
		nullableString(d.ExternalDeviceID),
		d.Name,
		string(d.Status),
		shadowJSON,
		tagsJSON,
		nullableString(d.FirmwareVersion),
		nullableTime(d.LastSeenOnline),
		nullableTime(d.LastSeenOffline),
		d.Version,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "external") {
				return ErrExternalIDConflict
			}
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device and increments its version.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device, force bool) error {
	if err := validate(d); err != nil {
		return err
	}

	shadowJSON, tagsJSON, err := marshalDocs(d)
	if err != nil {
		return err
	}

	readAt := d.UpdatedAt.Format(time.RFC3339)
	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			integration_id = ?, external_device_id = ?, name = ?, status = ?,
			shadow = ?, tags = ?, firmware_version = ?,
			last_seen_online = ?, last_seen_offline = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND (? OR updated_at <= ?)`

	result, err := r.db.ExecContext(ctx, query,
		nullableString(d.IntegrationID),
		nullableString(d.ExternalDeviceID),
		d.Name,
		string(d.Status),
		shadowJSON,
		tagsJSON,
		nullableString(d.FirmwareVersion),
		nullableTime(d.LastSeenOnline),
		nullableTime(d.LastSeenOffline),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
		boolToInt(force),
		readAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExternalIDConflict
		}
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating device: checking rows affected: %w", err)
	}
	if rowsAffected > 0 {
		d.Version++
		return nil
	}

	// Zero rows: distinguish a missing device from a stale write.
	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM devices WHERE id = ?", d.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking device existence: %w", err)
	}
	return ErrStaleWrite
}

// Upsert inserts or updates a device keyed on its external identifier.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device) (bool, error) {
	if d.ExternalDeviceID == nil || *d.ExternalDeviceID == "" {
		return false, fmt.Errorf("%w: upsert requires an external device id", ErrInvalid)
	}

	existing, err := r.GetByExternalID(ctx, d.OrganizationID, *d.ExternalDeviceID)
	if errors.Is(err, ErrNotFound) {
		if createErr := r.Create(ctx, d); createErr != nil {
			return false, createErr
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	d.ID = existing.ID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = existing.UpdatedAt
	d.Version = existing.Version
	if err := r.Update(ctx, d, false); err != nil {
		return false, err
	}
	return false, nil
}

// SetStatus updates connectivity status and the matching last-seen timestamp.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status, seenAt time.Time) error {
	seenColumn := "last_seen_offline"
	if status == StatusOnline {
		seenColumn = "last_seen_online"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := fmt.Sprintf(
		"UPDATE devices SET status = ?, %s = ?, version = version + 1, updated_at = ? WHERE id = ?",
		seenColumn,
	)

	result, err := r.db.ExecContext(ctx, query,
		string(status), seenAt.UTC().Format(time.RFC3339), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRowsAffected(result, "updating device status")
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowsAffected(result, "deleting device")
}

// validate checks a device for structural errors.
func validate(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalid)
	}
	if d.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalid)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if d.Status != "" {
		switch d.Status {
		case StatusOnline, StatusOffline, StatusUnknown:
		default:
			return fmt.Errorf("%w: invalid status %q", ErrInvalid, d.Status)
		}
	}
	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status string
	var shadowJSON, tagsJSON string
	var integrationID, externalID, firmware sql.NullString
	var seenOnline, seenOffline sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.OrganizationID,
		&integrationID,
		&externalID,
		&d.Name,
		&status,
		&shadowJSON,
		&tagsJSON,
		&firmware,
		&seenOnline,
		&seenOffline,
		&d.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)

	if integrationID.Valid {
		d.IntegrationID = &integrationID.String
	}
	if externalID.Valid {
		d.ExternalDeviceID = &externalID.String
	}
	if firmware.Valid {
		d.FirmwareVersion = &firmware.String
	}

	if err := json.Unmarshal([]byte(shadowJSON), &d.Shadow); err != nil {
		return nil, fmt.Errorf("unmarshalling shadow: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}

	if d.LastSeenOnline, err = parseNullableTime(seenOnline); err != nil {
		return nil, fmt.Errorf("parsing last_seen_online: %w", err)
	}
	if d.LastSeenOffline, err = parseNullableTime(seenOffline); err != nil {
		return nil, fmt.Errorf("parsing last_seen_offline: %w", err)
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

// marshalDocs serialises the shadow and tags JSON columns.
func marshalDocs(d *Device) (shadowJSON, tagsJSON string, err error) {
	shadow := d.Shadow
	if shadow == nil {
		shadow = Shadow{}
	}
	sb, err := json.Marshal(shadow)
	if err != nil {
		return "", "", fmt.Errorf("marshalling shadow: %w", err)
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tb, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("marshalling tags: %w", err)
	}

	return string(sb), string(tb), nil
}

// parseNullableTime parses an optional RFC3339 column.
func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableTime returns a sql.NullString for optional timestamps.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
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
