package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the backup port.
type Store interface {
	Create(ctx context.Context, automationID string, backupType Type, payload []byte, metadata map[string]interface{}) (string, error)
	Get(ctx context.Context, id string) (*Backup, error)
	Restore(ctx context.Context, id string) ([]byte, error)
	ListForAutomation(ctx context.Context, automationID string, limit int) ([]Backup, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const backupColumns = `id, automation_id, backup_type, payload, size_bytes, metadata, created_by, created_at`

type PostgresStore struct {
	db  DBTX
	now func() time.Time
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithTx returns a store whose writes join tx.
func (s *PostgresStore) WithTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx, now: s.now}
}

func (s *PostgresStore) Create(ctx context.Context, automationID string, backupType Type, payload []byte, metadata map[string]interface{}) (string, error) {
	if automationID == "" {
		return "", pkgerrors.ErrValidation.WithMessage("automation id is required for a backup")
	}
	if !json.Valid(payload) {
		return "", pkgerrors.ErrValidation.WithMessage("backup payload for automation %s is not valid JSON", automationID)
	}

	meta, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup metadata: %w", err)
	}

	id := uuid.New().String()
	query := `
		INSERT INTO automation_backups (` + backupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		id, automationID, string(backupType), payload, len(payload), meta,
		logging.GetActor(ctx), s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM automation_backups WHERE id = $1`

	b, err := scanBackup(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("backup %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Restore(ctx context.Context, id string) ([]byte, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.Payload, nil
}

func (s *PostgresStore) ListForAutomation(ctx context.Context, automationID string, limit int) ([]Backup, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + backupColumns + `
		FROM automation_backups
		WHERE automation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var backups []Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// DeleteOlderThan prunes backups created before cutoff.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_backups WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune backups: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBackup(row rowScanner) (*Backup, error) {
	var (
		b          Backup
		backupType string
		payload    []byte
		meta       []byte
	)
	if err := row.Scan(&b.ID, &b.AutomationID, &backupType, &payload, &b.Size, &meta, &b.CreatedBy, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Type = Type(backupType)
	b.Payload = json.RawMessage(payload)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode backup metadata: %w", err)
		}
	}
	return &b, nil
}

func metadataOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
