package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one received webhook delivery, keyed for deduplication.
type Event struct {
	DedupeKey     string     `json:"dedupe_key"`
	IntegrationID string     `json:"integration_id"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// EventRepository persists webhook events for idempotency.
type EventRepository interface {
	// Get retrieves an event by its composite key.
	// Returns ErrEventNotFound if no such event was recorded.
	Get(ctx context.Context, integrationID, dedupeKey string) (*Event, error)

	// Record inserts a received event. Recording an existing key is a
	// no-op; the stored event wins.
	Record(ctx context.Context, integrationID, dedupeKey string) error

	// MarkProcessed stamps the event as applied. Once set, redeliveries
	// of the same key are acknowledged without reapplying.
	MarkProcessed(ctx context.Context, integrationID, dedupeKey string) error

	// Prune deletes events received before the cutoff and returns the
	// number removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteEventRepository implements EventRepository backed by SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new SQLite-backed event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Get(ctx context.Context, integrationID, dedupeKey string) (*Event, error) {
	query := `
		SELECT dedupe_key, integration_id, received_at, processed_at
		FROM webhook_events
		WHERE integration_id = ? AND dedupe_key = ?`

	var (
		ev          Event
		receivedAt  string
		processedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, integrationID, dedupeKey).
		Scan(&ev.DedupeKey, &ev.IntegrationID, &receivedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying webhook event: %w", err)
	}

	ev.ReceivedAt, err = time.Parse(time.RFC3339, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing received_at: %w", err)
	}
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		ev.ProcessedAt = &t
	}
	return &ev, nil
}

func (r *SQLiteEventRepository) Record(ctx context.Context, integrationID, dedupeKey string) error {
	query := `
		INSERT INTO webhook_events (dedupe_key, integration_id, received_at)
		VALUES (?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		dedupeKey, integrationID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		// Concurrent redelivery already inserted the key.
		if isPrimaryKeyError(err) {
			return nil
		}
		return fmt.Errorf("recording webhook event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) MarkProcessed(ctx context.Context, integrationID, dedupeKey string) error {
	query := `
		UPDATE webhook_events SET processed_at = ?
		WHERE integration_id = ? AND dedupe_key = ?`

	result, err := r.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339), integrationID, dedupeKey)
	if err != nil {
		return fmt.Errorf("marking webhook event processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *SQLiteEventRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM webhook_events WHERE received_at < ?`

	result, err := r.db.ExecContext(ctx, query, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning webhook events: %w", err)
	}
	return result.RowsAffected()
}

func isPrimaryKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
