package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConflictRepository persists sync conflicts.
type ConflictRepository interface {
	Create(ctx context.Context, c *Conflict) error
	GetByID(ctx context.Context, id string) (*Conflict, error)

	// ListPending retrieves unresolved conflicts for an integration,
	// oldest first.
	ListPending(ctx context.Context, integrationID string) ([]*Conflict, error)

	// ListByDevice retrieves a device's conflict history, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]*Conflict, error)

	// Resolve records a decision on a pending conflict. Resolving an
	// already-resolved conflict returns ErrConflictResolved.
	Resolve(ctx context.Context, id string, resolution ConflictResolution, resolvedBy string) error
}

// SQLiteConflictRepository implements ConflictRepository backed by SQLite.
type SQLiteConflictRepository struct {
	db *sql.DB
}

// NewSQLiteConflictRepository creates a new SQLite-backed conflict repository.
func NewSQLiteConflictRepository(db *sql.DB) *SQLiteConflictRepository {
	return &SQLiteConflictRepository{db: db}
}

const conflictColumns = `id, device_id, integration_id, local_snapshot, remote_snapshot,
	detected_at, policy_applied, resolution, resolved_at, resolved_by`

func scanConflict(row rowScanner) (*Conflict, error) {
	var (
		c                      Conflict
		localJSON, remoteJSON  string
		detectedAt             string
		resolvedAt, resolvedBy sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.DeviceID, &c.IntegrationID, &localJSON, &remoteJSON,
		&detectedAt, &c.PolicyApplied, &c.Resolution, &resolvedAt, &resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(localJSON), &c.LocalSnapshot); err != nil {
		return nil, fmt.Errorf("parsing local snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(remoteJSON), &c.RemoteSnapshot); err != nil {
		return nil, fmt.Errorf("parsing remote snapshot: %w", err)
	}
	c.DetectedAt, err = time.Parse(time.RFC3339, detectedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing detected_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		c.ResolvedAt = &t
	}
	c.ResolvedBy = resolvedBy.String

	return &c, nil
}

func (r *SQLiteConflictRepository) Create(ctx context.Context, c *Conflict) error {
	if c.ID == "" {
		c.ID = GenerateConflictID()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	if c.Resolution == "" {
		c.Resolution = ResolutionPending
	}

	localJSON, err := marshalSnapshot(c.LocalSnapshot)
	if err != nil {
		return fmt.Errorf("marshaling local snapshot: %w", err)
	}
	remoteJSON, err := marshalSnapshot(c.RemoteSnapshot)
	if err != nil {
		return fmt.Errorf("marshaling remote snapshot: %w", err)
	}

	query := `
		INSERT INTO sync_conflicts (` + conflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.DeviceID, c.IntegrationID, localJSON, remoteJSON,
		c.DetectedAt.UTC().Format(time.RFC3339), c.PolicyApplied, c.Resolution,
		nullableCompletedAt(c.ResolvedAt), nullableResolvedBy(c.ResolvedBy),
	)
	if err != nil {
		return fmt.Errorf("inserting conflict: %w", err)
	}
	return nil
}

func (r *SQLiteConflictRepository) GetByID(ctx context.Context, id string) (*Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`

	c, err := scanConflict(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict: %w", err)
	}
	return c, nil
}

func (r *SQLiteConflictRepository) ListPending(ctx context.Context, integrationID string) ([]*Conflict, error) {
	query := `
		SELECT ` + conflictColumns + ` FROM sync_conflicts
		WHERE integration_id = ? AND resolution = 'pending'
		ORDER BY detected_at ASC`

	rows, err := r.db.QueryContext(ctx, query, integrationID)
	if err != nil {
		return nil, fmt.Errorf("querying pending conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []*Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (r *SQLiteConflictRepository) ListByDevice(ctx context.Context, deviceID string) ([]*Conflict, error) {
	query := `
		SELECT ` + conflictColumns + ` FROM sync_conflicts
		WHERE device_id = ?
		ORDER BY detected_at DESC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying device conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []*Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// Resolve is guarded by the pending state in the WHERE clause so two
// concurrent resolutions cannot both win.
func (r *SQLiteConflictRepository) Resolve(ctx context.Context, id string, resolution ConflictResolution, resolvedBy string) error {
	if resolution != ResolutionLocal && resolution != ResolutionRemote {
		return ErrInvalidChoice
	}

	query := `
		UPDATE sync_conflicts
		SET resolution = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolution = 'pending'`

	result, err := r.db.ExecContext(ctx, query,
		resolution, time.Now().UTC().Format(time.RFC3339), nullableResolvedBy(resolvedBy), id)
	if err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflictResolved
	}
	return nil
}

func marshalSnapshot(snap map[string]any) (string, error) {
	if snap == nil {
		snap = map[string]any{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableResolvedBy(s string) any {
	if s == "" {
		return nil
	}
	return s
}
