package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists notification deliveries.
type Repository interface {
	// Create inserts a delivery.
	Create(ctx context.Context, d *Delivery) error

	// GetByID retrieves a delivery.
	// Returns ErrNotFound if the delivery does not exist.
	GetByID(ctx context.Context, id string) (*Delivery, error)

	// Update writes the outcome fields of an attempted delivery.
	Update(ctx context.Context, d *Delivery) error

	// List retrieves an organization's deliveries, newest first.
	List(ctx context.Context, organizationID string, limit, offset int) ([]*Delivery, error)

	// LastSuccessAt returns the completion time of the most recent
	// successful delivery for a cooldown key, or the zero time if none.
	LastSuccessAt(ctx context.Context, cooldownKey string) (time.Time, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed delivery repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deliveryColumns = `id, organization_id, integration_id, channel, recipients, subject,
	payload, status, response_code, response_time_ms, retry_count, error, cooldown_key,
	created_at, completed_at`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var (
		d              Delivery
		integrationID  sql.NullString
		recipientsJSON string
		subject        sql.NullString
		payloadJSON    string
		responseCode   sql.NullInt64
		responseTimeMs sql.NullInt64
		errText        sql.NullString
		cooldownKey    sql.NullString
		createdAt      string
		completedAt    sql.NullString
	)

	err := row.Scan(
		&d.ID, &d.OrganizationID, &integrationID, &d.Channel, &recipientsJSON, &subject,
		&payloadJSON, &d.Status, &responseCode, &responseTimeMs, &d.RetryCount, &errText,
		&cooldownKey, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if integrationID.Valid {
		d.IntegrationID = &integrationID.String
	}
	if err := json.Unmarshal([]byte(recipientsJSON), &d.Recipients); err != nil {
		return nil, fmt.Errorf("parsing recipients: %w", err)
	}
	d.Subject = subject.String
	if err := json.Unmarshal([]byte(payloadJSON), &d.Payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if responseCode.Valid {
		code := int(responseCode.Int64)
		d.ResponseCode = &code
	}
	if responseTimeMs.Valid {
		ms := responseTimeMs.Int64
		d.ResponseTimeMs = &ms
	}
	d.Error = errText.String
	d.CooldownKey = cooldownKey.String

	d.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		d.CompletedAt = &t
	}
	return &d, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}

	recipientsJSON, payloadJSON, err := marshalDeliveryDocs(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_deliveries (` + deliveryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.OrganizationID, nullableStr(d.IntegrationID), d.Channel, recipientsJSON,
		nullableText(d.Subject), payloadJSON, d.Status, nullableInt(d.ResponseCode),
		nullableInt64(d.ResponseTimeMs), d.RetryCount, nullableText(d.Error),
		nullableText(d.CooldownKey), d.CreatedAt.UTC().Format(time.RFC3339),
		nullableTime(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE id = ?`

	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, d *Delivery) error {
	query := `
		UPDATE notification_deliveries
		SET status = ?, response_code = ?, response_time_ms = ?, retry_count = ?,
			error = ?, completed_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Status, nullableInt(d.ResponseCode), nullableInt64(d.ResponseTimeMs),
		d.RetryCount, nullableText(d.Error), nullableTime(d.CompletedAt), d.ID)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
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

func (r *SQLiteRepository) List(ctx context.Context, organizationID string, limit, offset int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + deliveryColumns + ` FROM notification_deliveries
		WHERE organization_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []*Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (r *SQLiteRepository) LastSuccessAt(ctx context.Context, cooldownKey string) (time.Time, error) {
	query := `
		SELECT completed_at FROM notification_deliveries
		WHERE cooldown_key = ? AND status = 'success' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1`

	var completedAt string
	err := r.db.QueryRowContext(ctx, query, cooldownKey).Scan(&completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying cooldown: %w", err)
	}

	t, err := time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	return t, nil
}

func marshalDeliveryDocs(d *Delivery) (string, string, error) {
	recipients := d.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	recipientsJSON, err := json.Marshal(recipients)
	if err != nil {
		return "", "", fmt.Errorf("marshaling recipients: %w", err)
	}

	payload := d.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshaling payload: %w", err)
	}
	return string(recipientsJSON), string(payloadJSON), nil
}

func nullableStr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableInt64(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
