package filtering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	GetActiveRules(ctx context.Context) ([]Rule, error)
	GetConnectionOwners(ctx context.Context) (map[string]string, error)
	IncrementMatches(ctx context.Context, ruleID string, delta int64, lastMatchedAt time.Time) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

// RuleColumns is the select list understood by ScanRule.
const RuleColumns = `id, owner_id, COALESCE(connection_id, ''), name, description, rule_type, action,
		condition, frequency_limit, time_window_minutes, priority, enabled,
		match_count, last_matched_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanRule reads one filter_rules row selected with RuleColumns.
func ScanRule(row rowScanner) (Rule, error) {
	var (
		rule        Rule
		ruleType    string
		action      string
		condition   []byte
		lastMatched sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.ConnectionID,
		&rule.Name,
		&rule.Description,
		&ruleType,
		&action,
		&condition,
		&rule.FrequencyLimit,
		&rule.TimeWindowMinutes,
		&rule.Priority,
		&rule.Enabled,
		&rule.MatchCount,
		&lastMatched,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return Rule{}, err
	}

	rule.Type = RuleType(ruleType)
	rule.Action = Action(action)
	if len(condition) > 0 {
		if err := json.Unmarshal(condition, &rule.Condition); err != nil {
			return Rule{}, fmt.Errorf("failed to decode condition of rule %s: %w", rule.ID, err)
		}
	}
	if lastMatched.Valid {
		t := lastMatched.Time
		rule.LastMatchedAt = &t
	}
	return rule, nil
}

func (r *PostgresRepository) GetActiveRules(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + RuleColumns + `
		FROM filter_rules
		WHERE enabled = true
		ORDER BY owner_id, priority ASC, created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := ScanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) GetConnectionOwners(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string)
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		owners[id] = owner
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return owners, nil
}

func (r *PostgresRepository) IncrementMatches(ctx context.Context, ruleID string, delta int64, lastMatchedAt time.Time) error {
	query := `
		UPDATE filter_rules
		SET match_count = match_count + $1,
		    last_matched_at = GREATEST(COALESCE(last_matched_at, $2), $2)
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, delta, lastMatchedAt, ruleID); err != nil {
		return fmt.Errorf("failed to increment matches for rule %s: %w", ruleID, err)
	}
	return nil
}
