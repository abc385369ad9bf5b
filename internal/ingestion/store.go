package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/retry"
)

// EventStore persists accepted events. InsertBatch is all-or-nothing;
// Insert is the direct, per-event path used when a bulk write fails.
// Writing an event that is already stored is a no-op.
type EventStore interface {
	InsertBatch(ctx context.Context, batchID string, events []models.Event) error
	Insert(ctx context.Context, batchID string, evt models.Event) error
}

const (
	eventColumns = `id, connection_id, batch_id, event_type, entity_id, old_state, new_state,
	attributes, occurred_at, ingested_at, source_partition, source_offset`
	eventColumnCount = 12
	// keeps one statement well under the Postgres bind parameter limit
	maxRowsPerInsert = 1000
)

type PostgresEventStore struct {
	db     *sql.DB
	policy retry.Policy
}

func NewPostgresEventStore(db *sql.DB, directWriteAttempts int) *PostgresEventStore {
	policy := retry.DefaultPolicy()
	if directWriteAttempts > 0 {
		policy.MaxAttempts = directWriteAttempts
	}
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	return &PostgresEventStore{db: db, policy: policy}
}

func (s *PostgresEventStore) InsertBatch(ctx context.Context, batchID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	err := s.insertBatch(ctx, batchID, events)
	metrics.ObserveDatabaseQueryDuration("ingestion", "postgres", "insert_events_bulk", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("ingestion", "postgres", "insert_events_bulk", "error")
		return err
	}
	metrics.IncDatabaseQuery("ingestion", "postgres", "insert_events_bulk", "success")
	return nil
}

func (s *PostgresEventStore) insertBatch(ctx context.Context, batchID string, events []models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for startIdx := 0; startIdx < len(events); startIdx += maxRowsPerInsert {
		end := startIdx + maxRowsPerInsert
		if end > len(events) {
			end = len(events)
		}
		query, args, err := buildInsert(batchID, events[startIdx:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event insert: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) Insert(ctx context.Context, batchID string, evt models.Event) error {
	query, args, err := buildInsert(batchID, []models.Event{evt})
	if err != nil {
		return retry.Permanent(err)
	}

	start := time.Now()
	err = retry.Retry(ctx, s.policy, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	metrics.ObserveDatabaseQueryDuration("ingestion", "postgres", "insert_event", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("ingestion", "postgres", "insert_event", "error")
		return fmt.Errorf("failed to insert event %s: %w", evt.ID, err)
	}
	metrics.IncDatabaseQuery("ingestion", "postgres", "insert_event", "success")
	return nil
}

func buildInsert(batchID string, events []models.Event) (string, []interface{}, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO events (")
	b.WriteString(eventColumns)
	b.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(events)*eventColumnCount)
	for i, evt := range events {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode attributes of event %s: %w", evt.ID, err)
		}

		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := 0; col < eventColumnCount; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*eventColumnCount+col+1)
		}
		b.WriteByte(')')

		args = append(args,
			evt.ID, evt.ConnectionID, batchID, evt.EventType,
			nullString(evt.EntityID), nullString(evt.OldState), nullString(evt.NewState),
			attrs, evt.Timestamp, evt.IngestedAt, evt.Partition, evt.Offset,
		)
	}
	b.WriteString(" ON CONFLICT (connection_id, id) DO NOTHING")
	return b.String(), args, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
