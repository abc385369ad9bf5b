package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"homeflow/internal/backup"
	pkgerrors "homeflow/pkg/errors"
)

// Tx is the set of writes that must commit together for one lifecycle
// change.
type Tx interface {
	GetForUpdate(ctx context.Context, id string) (*Automation, error)
	Update(ctx context.Context, a *Automation, expectedVersion int) error
	AppendHistory(ctx context.Context, rec *HistoryRecord) error
	CreateBackup(ctx context.Context, automationID string, backupType backup.Type, payload []byte, metadata map[string]interface{}) (string, error)
}

type Repository interface {
	Create(ctx context.Context, a *Automation) error
	Get(ctx context.Context, id string) (*Automation, error)
	List(ctx context.Context, f Filter) ([]Automation, error)
	History(ctx context.Context, automationID string, limit int) ([]HistoryRecord, error)
	UpdateMetrics(ctx context.Context, automationID string, m Metrics) error
	// WithinTx runs fn in one database transaction. Any error rolls back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

const automationColumns = `id, platform_automation_id, name, description, state, execution_state, version,
	execution_count, success_rate, avg_latency_ms, last_execution_at,
	created_by, modified_by, active, retired_at, retirement_reason, configuration,
	created_at, updated_at`

type PostgresRepository struct {
	db      *sql.DB
	backups *backup.PostgresStore
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, backups: backup.NewPostgresStore(db)}
}

func (r *PostgresRepository) Create(ctx context.Context, a *Automation) error {
	query := `INSERT INTO automations (` + automationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.ExecContext(ctx, query, automationArgs(a)...)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithMessage("automation '%s' already exists", a.Name)
		}
		return fmt.Errorf("failed to create automation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Automation, error) {
	return getAutomation(ctx, r.db, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id)
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Automation, error) {
	var (
		args       []interface{}
		conditions []string
	)
	if f.State != "" {
		args = append(args, string(f.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + automationColumns + ` FROM automations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) History(ctx context.Context, automationID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, automation_id, kind, from_state, to_state, reason, version, COALESCE(backup_id, ''), changed_by, created_at
		FROM automation_history
		WHERE automation_id = $1
		ORDER BY created_at ASC, version ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec  HistoryRecord
			kind string
		)
		if err := rows.Scan(&rec.ID, &rec.AutomationID, &kind, &rec.FromState, &rec.ToState,
			&rec.Reason, &rec.Version, &rec.BackupID, &rec.ChangedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Kind = HistoryKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateMetrics(ctx context.Context, automationID string, m Metrics) error {
	query := `
		UPDATE automations
		SET execution_count = $1, success_rate = $2, avg_latency_ms = $3, last_execution_at = $4
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query, m.ExecutionCount, m.SuccessRate, m.AvgLatencyMs, m.LastExecutionAt, automationID)
	if err != nil {
		return fmt.Errorf("failed to update automation metrics: %w", err)
	}
	return requireOneRow(res, automationID)
}

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx, backups: r.backups.WithTx(sqlTx)}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx      *sql.Tx
	backups *backup.PostgresStore
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (*Automation, error) {
	return getAutomation(ctx, t.tx, `SELECT `+automationColumns+` FROM automations WHERE id = $1 FOR UPDATE`, id)
}

// Update writes a only if the stored version still equals expectedVersion.
func (t *pgTx) Update(ctx context.Context, a *Automation, expectedVersion int) error {
	query := `
		UPDATE automations
		SET name = $1, description = $2, state = $3, execution_state = $4, version = $5,
			modified_by = $6, active = $7, retired_at = $8, retirement_reason = $9,
			configuration = $10, updated_at = $11
		WHERE id = $12 AND version = $13
	`
	res, err := t.tx.ExecContext(ctx, query,
		a.Name, a.Description, string(a.State), string(a.ExecutionState), a.Version,
		a.ModifiedBy, a.Active, a.RetiredAt, a.RetirementReason,
		configurationOrEmpty(a.Configuration), a.UpdatedAt,
		a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrConflict.WithMessage("automation %s was modified concurrently", a.ID)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, rec *HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `
		INSERT INTO automation_history (id, automation_id, kind, from_state, to_state, reason, version, backup_id, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, query,
		rec.ID, rec.AutomationID, string(rec.Kind), rec.FromState, rec.ToState,
		rec.Reason, rec.Version, rec.BackupID, rec.ChangedBy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append automation history: %w", err)
	}
	return nil
}

func (t *pgTx) CreateBackup(ctx context.Context, automationID string, backupType backup.Type, payload []byte, metadata map[string]interface{}) (string, error) {
	return t.backups.Create(ctx, automationID, backupType, payload, metadata)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getAutomation(ctx context.Context, q querier, query, id string) (*Automation, error) {
	a, err := scanAutomation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("automation %s not found", id).WithDetail("automation_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAutomation(row rowScanner) (*Automation, error) {
	var (
		a                               Automation
		platformID, description, reason sql.NullString
		state, execState                string
		configuration                   []byte
	)
	err := row.Scan(
		&a.ID, &platformID, &a.Name, &description, &state, &execState, &a.Version,
		&a.Metrics.ExecutionCount, &a.Metrics.SuccessRate, &a.Metrics.AvgLatencyMs, &a.Metrics.LastExecutionAt,
		&a.CreatedBy, &a.ModifiedBy, &a.Active, &a.RetiredAt, &reason, &configuration,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PlatformAutomationID = platformID.String
	a.Description = description.String
	a.RetirementReason = reason.String
	a.State = State(state)
	a.ExecutionState = ExecutionState(execState)
	a.Configuration = configuration
	return &a, nil
}

func automationArgs(a *Automation) []interface{} {
	return []interface{}{
		a.ID, a.PlatformAutomationID, a.Name, a.Description, string(a.State), string(a.ExecutionState), a.Version,
		a.Metrics.ExecutionCount, a.Metrics.SuccessRate, a.Metrics.AvgLatencyMs, a.Metrics.LastExecutionAt,
		a.CreatedBy, a.ModifiedBy, a.Active, a.RetiredAt, a.RetirementReason, configurationOrEmpty(a.Configuration),
		a.CreatedAt, a.UpdatedAt,
	}
}

func configurationOrEmpty(c []byte) []byte {
	if len(c) == 0 {
		return []byte("{}")
	}
	return c
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound.WithMessage("automation %s not found", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
