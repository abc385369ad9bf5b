package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"homeflow/internal/constants"
	"homeflow/internal/filtering"
	pkgerrors "homeflow/pkg/errors"
)

type Repository interface {
	CreateFilterRule(ctx context.Context, rule *FilterRule) error
	ListFilterRules(ctx context.Context, f RuleListFilter) ([]FilterRule, error)
	GetFilterRule(ctx context.Context, id string) (*FilterRule, error)
	UpdateFilterRule(ctx context.Context, rule *FilterRule) error
	DeleteFilterRule(ctx context.Context, id string) error

	CreateConnection(ctx context.Context, conn *Connection) error
	ListConnections(ctx context.Context, ownerID string) ([]Connection, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func conflictOn(err error, format string, args ...interface{}) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pkgerrors.ErrConflict.WithCause(err).WithMessage(format, args...)
	}
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return pkgerrors.ErrValidation.WithCause(err).WithMessage("referenced record does not exist")
	}
	return nil
}

func (r *PostgresRepository) CreateFilterRule(ctx context.Context, rule *FilterRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	query := `
		INSERT INTO filter_rules (id, owner_id, connection_id, name, description, rule_type, action,
			condition, frequency_limit, time_window_minutes, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.OwnerID, rule.ConnectionID, rule.Name, rule.Description,
		string(rule.Type), string(rule.Action), condition,
		rule.FrequencyLimit, rule.TimeWindowMinutes, rule.Priority, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if cerr := conflictOn(err, "rule with name '%s' already exists for owner %s", rule.Name, rule.OwnerID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetFilterRule(ctx context.Context, id string) (*FilterRule, error) {
	query := `SELECT ` + filtering.RuleColumns + ` FROM filter_rules WHERE id = $1`

	rule, err := filtering.ScanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("filter rule %s not found", id).WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return &rule, nil
}

func (r *PostgresRepository) ListFilterRules(ctx context.Context, f RuleListFilter) ([]FilterRule, error) {
	limit := f.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	query := `SELECT ` + filtering.RuleColumns + `
		FROM filter_rules
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY owner_id, priority ASC, created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, f.OwnerID, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []FilterRule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := filtering.ScanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *PostgresRepository) UpdateFilterRule(ctx context.Context, rule *FilterRule) error {
	rule.UpdatedAt = time.Now().UTC()

	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}

	query := `
		UPDATE filter_rules
		SET connection_id = NULLIF($1, ''), name = $2, description = $3, rule_type = $4, action = $5,
			condition = $6, frequency_limit = $7, time_window_minutes = $8, priority = $9,
			enabled = $10, updated_at = $11
		WHERE id = $12
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.ConnectionID, rule.Name, rule.Description, string(rule.Type), string(rule.Action),
		condition, rule.FrequencyLimit, rule.TimeWindowMinutes, rule.Priority,
		rule.Enabled, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		if cerr := conflictOn(err, "rule with name '%s' already exists for owner %s", rule.Name, rule.OwnerID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return requireRow(res, rule.ID)
}

func (r *PostgresRepository) DeleteFilterRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithMessage("filter rule %s not found", id).WithDetail("id", id)
	}
	return nil
}

func (r *PostgresRepository) CreateConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	conn.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connections (id, owner_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		conn.ID, conn.OwnerID, conn.Name, conn.CreatedAt,
	)
	if err != nil {
		if cerr := conflictOn(err, "connection %s already exists", conn.ID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListConnections(ctx context.Context, ownerID string) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at
		FROM connections
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
