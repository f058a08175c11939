package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunRepository persists sync runs.
type RunRepository interface {
	// Create inserts a run in the running state.
	Create(ctx context.Context, run *SyncRun) error

	// Seal writes the final status, counts and errors of a completed run.
	Seal(ctx context.Context, run *SyncRun) error

	// GetByID retrieves a run, loading nested import/export phase runs
	// for bidirectional runs.
	GetByID(ctx context.Context, id string) (*SyncRun, error)

	// ListByIntegration retrieves the most recent runs for an
	// integration, newest first.
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*SyncRun, error)

	// LastCompletedAt returns the completion time of the most recent
	// successful or partial run, or the zero time if none exists.
	LastCompletedAt(ctx context.Context, integrationID string) (time.Time, error)
}

// SQLiteRunRepository implements RunRepository backed by SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a new SQLite-backed run repository.
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

const runColumns = `id, integration_id, operation, started_at, completed_at, status,
	processed, succeeded, failed, errors, errors_truncated, import_run_id, export_run_id`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*SyncRun, string, string, error) {
	var (
		run                      SyncRun
		startedAt                string
		completedAt              sql.NullString
		errorsJSON               string
		truncated                int
		importRunID, exportRunID sql.NullString
	)

	err := row.Scan(
		&run.ID, &run.IntegrationID, &run.Operation, &startedAt, &completedAt, &run.Status,
		&run.Processed, &run.Succeeded, &run.Failed, &errorsJSON, &truncated,
		&importRunID, &exportRunID,
	)
	if err != nil {
		return nil, "", "", err
	}

	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, "", "", fmt.Errorf("parsing started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, "", "", fmt.Errorf("parsing completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return nil, "", "", fmt.Errorf("parsing errors: %w", err)
	}
	run.ErrorsTruncated = truncated != 0

	return &run, importRunID.String, exportRunID.String, nil
}

// Create inserts a run row. Nested phase run IDs are written so a
// bidirectional run can be reassembled on read.
func (r *SQLiteRunRepository) Create(ctx context.Context, run *SyncRun) error {
	if run.ID == "" {
		run.ID = GenerateRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	errorsJSON, err := marshalRunErrors(run.Errors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.IntegrationID, run.Operation,
		run.StartedAt.UTC().Format(time.RFC3339), nullableCompletedAt(run.CompletedAt), run.Status,
		run.Processed, run.Succeeded, run.Failed, errorsJSON, boolToInt(run.ErrorsTruncated),
		nestedRunID(run.Import), nestedRunID(run.Export),
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// Seal finalises a run. Counts, status and bounded errors become
// immutable after this write.
func (r *SQLiteRunRepository) Seal(ctx context.Context, run *SyncRun) error {
	errorsJSON, err := marshalRunErrors(run.Errors)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_runs
		SET completed_at = ?, status = ?, processed = ?, succeeded = ?, failed = ?,
			errors = ?, errors_truncated = ?, import_run_id = ?, export_run_id = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableCompletedAt(run.CompletedAt), run.Status,
		run.Processed, run.Succeeded, run.Failed,
		errorsJSON, boolToInt(run.ErrorsTruncated),
		nestedRunID(run.Import), nestedRunID(run.Export),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("sealing sync run: %w", err)
	}
	return requireRunRows(result, ErrRunNotFound)
}

func (r *SQLiteRunRepository) GetByID(ctx context.Context, id string) (*SyncRun, error) {
	run, importID, exportID, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if importID != "" {
		if run.Import, _, _, err = r.get(ctx, importID); err != nil {
			return nil, fmt.Errorf("loading import phase: %w", err)
		}
	}
	if exportID != "" {
		if run.Export, _, _, err = r.get(ctx, exportID); err != nil {
			return nil, fmt.Errorf("loading export phase: %w", err)
		}
	}
	return run, nil
}

func (r *SQLiteRunRepository) get(ctx context.Context, id string) (*SyncRun, string, string, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE id = ?`

	run, importID, exportID, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", "", ErrRunNotFound
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("querying sync run: %w", err)
	}
	return run, importID, exportID, nil
}

// ListByIntegration returns top-level runs only; phase runs of a
// bidirectional run are reachable through their parent.
func (r *SQLiteRunRepository) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + runColumns + ` FROM sync_runs
		WHERE integration_id = ?
		AND id NOT IN (
			SELECT import_run_id FROM sync_runs WHERE import_run_id IS NOT NULL
			UNION
			SELECT export_run_id FROM sync_runs WHERE export_run_id IS NOT NULL
		)
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*SyncRun{}
	for rows.Next() {
		run, importID, exportID, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		if importID != "" {
			if run.Import, _, _, err = r.get(ctx, importID); err != nil {
				return nil, fmt.Errorf("loading import phase: %w", err)
			}
		}
		if exportID != "" {
			if run.Export, _, _, err = r.get(ctx, exportID); err != nil {
				return nil, fmt.Errorf("loading export phase: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRunRepository) LastCompletedAt(ctx context.Context, integrationID string) (time.Time, error) {
	query := `
		SELECT completed_at FROM sync_runs
		WHERE integration_id = ? AND status IN ('success', 'partial') AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1`

	var completedAt string
	err := r.db.QueryRowContext(ctx, query, integrationID).Scan(&completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last completed run: %w", err)
	}

	t, err := time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return t, nil
}

func marshalRunErrors(errs []RunError) (string, error) {
	if errs == nil {
		errs = []RunError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("marshaling run errors: %w", err)
	}
	return string(data), nil
}

func nestedRunID(run *SyncRun) any {
	if run == nil {
		return nil
	}
	return run.ID
}

func nullableCompletedAt(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRunRows(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
