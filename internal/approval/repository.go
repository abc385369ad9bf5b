package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pkgerrors "homeflow/pkg/errors"
)

type Repository interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	// UpdateWorkflowFrom writes w only while the stored status is still
	// from, and returns InvalidWorkflowState otherwise.
	UpdateWorkflowFrom(ctx context.Context, w *Workflow, from Status) error
	ListWorkflows(ctx context.Context, f Filter) ([]Workflow, error)

	CreateStopLog(ctx context.Context, l *EmergencyStopLog) error
	GetStopLog(ctx context.Context, id string) (*EmergencyStopLog, error)
	UpdateStopLog(ctx context.Context, l *EmergencyStopLog) error
	ListStopLogs(ctx context.Context, limit int) ([]EmergencyStopLog, error)
}

const workflowColumns = `id, automation_id, workflow_type, status, requested_by, approved_by, rejected_by,
	requested_at, approved_at, rejected_at, cancelled_at, notes, rejection_reason, confidence_score,
	proposed_change, emergency_stop, emergency_stopped_at, emergency_reason, updated_at`

const stopLogColumns = `id, workflow_id, trigger_type, triggered_by, reason, affected_automations,
	recovery_status, recovery_actions, recovered_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateWorkflow(ctx context.Context, w *Workflow) error {
	change, err := json.Marshal(w.ProposedChange)
	if err != nil {
		return fmt.Errorf("failed to marshal proposed change: %w", err)
	}
	query := `INSERT INTO approval_workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err = r.db.ExecContext(ctx, query,
		w.ID, w.AutomationID, string(w.Type), string(w.Status), w.RequestedBy, w.ApprovedBy, w.RejectedBy,
		w.RequestedAt, w.ApprovedAt, w.RejectedAt, w.CancelledAt, w.Notes, w.RejectionReason, w.ConfidenceScore,
		change, w.EmergencyStop, w.EmergencyStoppedAt, w.EmergencyReason, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	w, err := scanWorkflow(r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("workflow %s not found", id).WithDetail("workflow_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

const updateWorkflowQuery = `
	UPDATE approval_workflows
	SET status = $1, approved_by = $2, rejected_by = $3, approved_at = $4, rejected_at = $5,
		cancelled_at = $6, notes = $7, rejection_reason = $8, emergency_stop = $9,
		emergency_stopped_at = $10, emergency_reason = $11, updated_at = $12
	WHERE id = $13`

func workflowUpdateArgs(w *Workflow) []interface{} {
	return []interface{}{
		string(w.Status), w.ApprovedBy, w.RejectedBy, w.ApprovedAt, w.RejectedAt,
		w.CancelledAt, w.Notes, w.RejectionReason, w.EmergencyStop,
		w.EmergencyStoppedAt, w.EmergencyReason, w.UpdatedAt, w.ID,
	}
}

func (r *PostgresRepository) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	res, err := r.db.ExecContext(ctx, updateWorkflowQuery, workflowUpdateArgs(w)...)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound.WithMessage("workflow %s not found", w.ID)
	}
	return nil
}

func (r *PostgresRepository) UpdateWorkflowFrom(ctx context.Context, w *Workflow, from Status) error {
	res, err := r.db.ExecContext(ctx, updateWorkflowQuery+` AND status = $14`,
		append(workflowUpdateArgs(w), string(from))...)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := r.GetWorkflow(ctx, w.ID)
	if err != nil {
		return err
	}
	return pkgerrors.ErrInvalidWorkflowState.
		WithMessage("workflow %s moved to %s concurrently", w.ID, current.Status).
		WithDetail("workflow_id", w.ID).
		WithDetail("status", string(current.Status))
}

func (r *PostgresRepository) ListWorkflows(ctx context.Context, f Filter) ([]Workflow, error) {
	var (
		args       []interface{}
		conditions []string
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AutomationID != "" {
		args = append(args, f.AutomationID)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}

	query := `SELECT ` + workflowColumns + ` FROM approval_workflows`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY requested_at DESC"
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
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateStopLog(ctx context.Context, l *EmergencyStopLog) error {
	affected, actions, err := marshalStopLog(l)
	if err != nil {
		return err
	}
	query := `INSERT INTO emergency_stop_logs (` + stopLogColumns + `)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query,
		l.ID, l.WorkflowID, string(l.TriggerType), l.TriggeredBy, l.Reason, affected,
		string(l.RecoveryStatus), actions, l.RecoveredAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create emergency stop log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetStopLog(ctx context.Context, id string) (*EmergencyStopLog, error) {
	l, err := scanStopLog(r.db.QueryRowContext(ctx, `SELECT `+stopLogColumns+` FROM emergency_stop_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("emergency stop %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emergency stop log: %w", err)
	}
	return l, nil
}

// UpdateStopLog only touches the recovery columns.
func (r *PostgresRepository) UpdateStopLog(ctx context.Context, l *EmergencyStopLog) error {
	_, actions, err := marshalStopLog(l)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE emergency_stop_logs
		SET recovery_status = $1, recovery_actions = $2, recovered_at = $3
		WHERE id = $4
	`, string(l.RecoveryStatus), actions, l.RecoveredAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update emergency stop log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound.WithMessage("emergency stop %s not found", l.ID)
	}
	return nil
}

func (r *PostgresRepository) ListStopLogs(ctx context.Context, limit int) ([]EmergencyStopLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+stopLogColumns+` FROM emergency_stop_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency stop logs: %w", err)
	}
	defer rows.Close()

	var out []EmergencyStopLog
	for rows.Next() {
		l, err := scanStopLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emergency stop log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var (
		w                                        Workflow
		workflowType, status                     string
		approvedBy, rejectedBy, notes, rejReason sql.NullString
		emergencyReason                          sql.NullString
		change                                   []byte
	)
	err := row.Scan(
		&w.ID, &w.AutomationID, &workflowType, &status, &w.RequestedBy, &approvedBy, &rejectedBy,
		&w.RequestedAt, &w.ApprovedAt, &w.RejectedAt, &w.CancelledAt, &notes, &rejReason, &w.ConfidenceScore,
		&change, &w.EmergencyStop, &w.EmergencyStoppedAt, &emergencyReason, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Type = Type(workflowType)
	w.Status = Status(status)
	w.ApprovedBy = approvedBy.String
	w.RejectedBy = rejectedBy.String
	w.Notes = notes.String
	w.RejectionReason = rejReason.String
	w.EmergencyReason = emergencyReason.String
	if len(change) > 0 {
		if err := json.Unmarshal(change, &w.ProposedChange); err != nil {
			return nil, fmt.Errorf("failed to decode proposed change: %w", err)
		}
	}
	return &w, nil
}

func scanStopLog(row rowScanner) (*EmergencyStopLog, error) {
	var (
		l                     EmergencyStopLog
		workflowID            sql.NullString
		triggerType, recovery string
		affected, actions     []byte
	)
	err := row.Scan(&l.ID, &workflowID, &triggerType, &l.TriggeredBy, &l.Reason, &affected,
		&recovery, &actions, &l.RecoveredAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.WorkflowID = workflowID.String
	l.TriggerType = TriggerType(triggerType)
	l.RecoveryStatus = RecoveryStatus(recovery)
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &l.AffectedAutomations); err != nil {
			return nil, fmt.Errorf("failed to decode affected automations: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &l.RecoveryActions); err != nil {
			return nil, fmt.Errorf("failed to decode recovery actions: %w", err)
		}
	}
	return &l, nil
}

func marshalStopLog(l *EmergencyStopLog) (affected, actions []byte, err error) {
	affectedList := l.AffectedAutomations
	if affectedList == nil {
		affectedList = []AffectedAutomation{}
	}
	if affected, err = json.Marshal(affectedList); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal affected automations: %w", err)
	}
	actionList := l.RecoveryActions
	if actionList == nil {
		actionList = []string{}
	}
	if actions, err = json.Marshal(actionList); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal recovery actions: %w", err)
	}
	return affected, actions, nil
}
