package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netneural/sync-core/internal/integration"
)

// ErrNotFound is returned when an integration has no schedule.
var ErrNotFound = errors.New("scheduler: schedule not found")

// Schedule is the auto-sync state for one integration.
type Schedule struct {
	IntegrationID  string `json:"integration_id"`
	OrganizationID string `json:"organization_id"`

	Enabled            bool                       `json:"enabled"`
	FrequencyMinutes   int                        `json:"frequency_minutes"`
	Direction          integration.Direction      `json:"direction"`
	ConflictResolution integration.ConflictPolicy `json:"conflict_resolution"`
	OnlyOnline         bool                       `json:"only_online"`
	DeviceFilter       *integration.DeviceFilter  `json:"device_filter,omitempty"`

	NextRunAt      time.Time  `json:"next_run_at"`
	Running        bool       `json:"running"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// Frequency returns the run interval as a Duration.
func (s *Schedule) Frequency() time.Duration {
	return time.Duration(s.FrequencyMinutes) * time.Minute
}

// Repository persists sync schedules.
type Repository interface {
	// Upsert creates or replaces an integration's schedule. A zero
	// NextRunAt is initialised to now plus the frequency.
	Upsert(ctx context.Context, s *Schedule) error

	// Get retrieves an integration's schedule.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, integrationID string) (*Schedule, error)

	// Due retrieves enabled schedules whose next_run_at has passed.
	Due(ctx context.Context, now time.Time) ([]*Schedule, error)

	// Claim marks a schedule as running with a lease. Returns false when
	// another worker holds an unexpired claim.
	Claim(ctx context.Context, integrationID string, now time.Time, lease time.Duration) (bool, error)

	// Release clears the claim, records the run outcome and advances
	// next_run_at by the schedule's frequency.
	Release(ctx context.Context, integrationID string, now time.Time, status string) error

	// Delete removes an integration's schedule.
	Delete(ctx context.Context, integrationID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed schedule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const scheduleColumns = `integration_id, organization_id, enabled, frequency_minutes, direction,
	conflict_resolution, only_online, device_filter, next_run_at, running, lease_expires_at,
	last_run_at, last_run_status`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		s              Schedule
		enabled        int
		onlyOnline     int
		filterJSON     sql.NullString
		nextRunAt      string
		running        int
		leaseExpiresAt sql.NullString
		lastRunAt      sql.NullString
		lastRunStatus  sql.NullString
	)

	err := row.Scan(
		&s.IntegrationID, &s.OrganizationID, &enabled, &s.FrequencyMinutes, &s.Direction,
		&s.ConflictResolution, &onlyOnline, &filterJSON, &nextRunAt, &running,
		&leaseExpiresAt, &lastRunAt, &lastRunStatus,
	)
	if err != nil {
		return nil, err
	}

	s.Enabled = enabled != 0
	s.OnlyOnline = onlyOnline != 0
	s.Running = running != 0
	s.LastRunStatus = lastRunStatus.String

	if filterJSON.Valid && filterJSON.String != "" {
		var f integration.DeviceFilter
		if err := json.Unmarshal([]byte(filterJSON.String), &f); err != nil {
			return nil, fmt.Errorf("parsing device filter: %w", err)
		}
		s.DeviceFilter = &f
	}

	s.NextRunAt, err = time.Parse(time.RFC3339, nextRunAt)
	if err != nil {
		return nil, fmt.Errorf("parsing next_run_at: %w", err)
	}
	if s.LeaseExpiresAt, err = parseNullableTime(leaseExpiresAt); err != nil {
		return nil, fmt.Errorf("parsing lease_expires_at: %w", err)
	}
	if s.LastRunAt, err = parseNullableTime(lastRunAt); err != nil {
		return nil, fmt.Errorf("parsing last_run_at: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, s *Schedule) error {
	if s.NextRunAt.IsZero() {
		s.NextRunAt = time.Now().UTC().Add(s.Frequency())
	}

	filterJSON, err := marshalFilter(s.DeviceFilter)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(integration_id) DO UPDATE SET
			organization_id = excluded.organization_id,
			enabled = excluded.enabled,
			frequency_minutes = excluded.frequency_minutes,
			direction = excluded.direction,
			conflict_resolution = excluded.conflict_resolution,
			only_online = excluded.only_online,
			device_filter = excluded.device_filter,
			next_run_at = excluded.next_run_at`

	_, err = r.db.ExecContext(ctx, query,
		s.IntegrationID, s.OrganizationID, boolToInt(s.Enabled), s.FrequencyMinutes,
		s.Direction, s.ConflictResolution, boolToInt(s.OnlyOnline), filterJSON,
		s.NextRunAt.UTC().Format(time.RFC3339), boolToInt(s.Running),
		nullableTime(s.LeaseExpiresAt), nullableTime(s.LastRunAt),
		nullableStatus(s.LastRunStatus),
	)
	if err != nil {
		return fmt.Errorf("upserting schedule: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, integrationID string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedules WHERE integration_id = ?`

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, integrationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) Due(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + ` FROM sync_schedules
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC`

	rows, err := r.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Claim is a compare-and-swap: only one worker wins the row while the
// lease holds. An expired lease from a crashed worker is reclaimable.
func (r *SQLiteRepository) Claim(ctx context.Context, integrationID string, now time.Time, lease time.Duration) (bool, error) {
	nowText := now.UTC().Format(time.RFC3339)

	query := `
		UPDATE sync_schedules
		SET running = 1, lease_expires_at = ?
		WHERE integration_id = ? AND enabled = 1
		AND (running = 0 OR lease_expires_at < ?)`

	result, err := r.db.ExecContext(ctx, query,
		now.UTC().Add(lease).Format(time.RFC3339), integrationID, nowText)
	if err != nil {
		return false, fmt.Errorf("claiming schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected == 1, nil
}

// Release advances next_run_at by the stored frequency whatever the run
// outcome, so a failing integration keeps its cadence instead of
// hot-looping.
func (r *SQLiteRepository) Release(ctx context.Context, integrationID string, now time.Time, status string) error {
	s, err := r.Get(ctx, integrationID)
	if err != nil {
		return err
	}

	next := now.UTC().Add(s.Frequency())

	query := `
		UPDATE sync_schedules
		SET running = 0, lease_expires_at = NULL,
			next_run_at = ?, last_run_at = ?, last_run_status = ?
		WHERE integration_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		next.Format(time.RFC3339), now.UTC().Format(time.RFC3339),
		nullableStatus(status), integrationID)
	if err != nil {
		return fmt.Errorf("releasing schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, integrationID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_schedules WHERE integration_id = ?`, integrationID)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return nil
}

func marshalFilter(f *integration.DeviceFilter) (any, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling device filter: %w", err)
	}
	return string(data), nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableStatus(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
