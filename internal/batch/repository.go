package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeflow/internal/constants"
	pkgerrors "homeflow/pkg/errors"
)

type Repository interface {
	Save(ctx context.Context, b *Batch) error
	Get(ctx context.Context, id string) (*Batch, error)
	List(ctx context.Context, f Filter) ([]Batch, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]Batch, error)
	// ClaimRetry moves a RETRYING batch to RUNNING and reports whether this
	// caller won it. Only the winner may run the retry.
	ClaimRetry(ctx context.Context, id string, now time.Time) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const batchColumns = `id, COALESCE(owner_id, ''), COALESCE(connection_id, ''), batch_type, status, source, partition,
	batch_size, processed_count, success_count, error_count, filtered_count,
	started_at, completed_at, processing_time_ms, retry_count, max_retries, next_retry_at,
	filter_effectiveness, error_detail, metadata, created_at, updated_at`

// Save inserts the batch or overwrites its mutable columns.
func (r *PostgresRepository) Save(ctx context.Context, b *Batch) error {
	errorDetail, err := marshalNullable(b.ErrorDetail)
	if err != nil {
		return fmt.Errorf("failed to encode error detail: %w", err)
	}
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO event_batches (id, owner_id, connection_id, batch_type, status, source, partition,
			batch_size, processed_count, success_count, error_count, filtered_count,
			started_at, completed_at, processing_time_ms, retry_count, max_retries, next_retry_at,
			filter_effectiveness, error_detail, metadata, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			batch_size = EXCLUDED.batch_size,
			processed_count = EXCLUDED.processed_count,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			filtered_count = EXCLUDED.filtered_count,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			processing_time_ms = EXCLUDED.processing_time_ms,
			retry_count = EXCLUDED.retry_count,
			next_retry_at = EXCLUDED.next_retry_at,
			filter_effectiveness = EXCLUDED.filter_effectiveness,
			error_detail = EXCLUDED.error_detail,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		b.ID, b.OwnerID, b.ConnectionID, string(b.Type), string(b.Status), b.Source, b.Partition,
		b.BatchSize, b.ProcessedCount, b.SuccessCount, b.ErrorCount, b.FilteredCount,
		b.StartedAt, b.CompletedAt, b.ProcessingTimeMs, b.RetryCount, b.MaxRetries, b.NextRetryAt,
		b.FilterEffectiveness, errorDetail, metadata, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", b.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM event_batches WHERE id = $1`, id)

	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("batch %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Batch, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conditions = append(conditions, fmt.Sprintf("batch_type = $%d", len(args)))
	}

	query := `SELECT ` + batchColumns + ` FROM event_batches`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.query(ctx, query, args...)
}

func (r *PostgresRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	query := `SELECT ` + batchColumns + ` FROM event_batches
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3`
	return r.query(ctx, query, string(StatusRetrying), now, limit)
}

func (r *PostgresRepository) ClaimRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE event_batches SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, string(StatusRunning), now, id, string(StatusRetrying))
	if err != nil {
		return false, fmt.Errorf("failed to claim batch retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claimed rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) ([]Batch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return batches, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var (
		b           Batch
		batchType   string
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		nextRetryAt sql.NullTime
		errorDetail []byte
		metadata    []byte
	)
	if err := row.Scan(
		&b.ID, &b.OwnerID, &b.ConnectionID, &batchType, &status, &b.Source, &b.Partition,
		&b.BatchSize, &b.ProcessedCount, &b.SuccessCount, &b.ErrorCount, &b.FilteredCount,
		&startedAt, &completedAt, &b.ProcessingTimeMs, &b.RetryCount, &b.MaxRetries, &nextRetryAt,
		&b.FilterEffectiveness, &errorDetail, &metadata, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return Batch{}, err
	}

	b.Type = Type(batchType)
	b.Status = Status(status)
	b.StartedAt = nullTime(startedAt)
	b.CompletedAt = nullTime(completedAt)
	b.NextRetryAt = nullTime(nextRetryAt)

	if len(errorDetail) > 0 && string(errorDetail) != "null" {
		b.ErrorDetail = &ErrorDetail{}
		if err := json.Unmarshal(errorDetail, b.ErrorDetail); err != nil {
			return Batch{}, fmt.Errorf("failed to decode error detail: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return Batch{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return b, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// marshalNullable keeps a nil detail as SQL NULL rather than "null".
func marshalNullable(v *ErrorDetail) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
