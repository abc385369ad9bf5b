package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "homeflow/pkg/errors"
)

// RuleTypeFilter tags versions and audit entries that belong to filter rules.
const RuleTypeFilter = "filter"

type RuleVersion struct {
	ID           string          `json:"id"`
	RuleID       string          `json:"rule_id"`
	RuleType     string          `json:"rule_type"`
	RuleData     json.RawMessage `json:"rule_data" swaggertype:"object"`
	Version      int             `json:"version"`
	ChangedBy    string          `json:"changed_by,omitempty"`
	ChangeReason string          `json:"change_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID           string                 `json:"id"`
	RuleID       *string                `json:"rule_id,omitempty"`
	RuleType     string                 `json:"rule_type"`
	Action       string                 `json:"action"`
	OldValue     map[string]interface{} `json:"old_value,omitempty"`
	NewValue     map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy    string                 `json:"changed_by"`
	ChangeReason string                 `json:"change_reason,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

type VersioningRepository interface {
	CreateVersion(ctx context.Context, version *RuleVersion) error
	GetVersions(ctx context.Context, ruleID string) ([]RuleVersion, error)
	GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error)
	CreateAuditLog(ctx context.Context, log *AuditLog) error
	GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error)
}

type postgresVersioningRepository struct {
	db *sql.DB
}

func NewVersioningRepository(db *sql.DB) VersioningRepository {
	return &postgresVersioningRepository{db: db}
}

// CreateVersion assigns the next version number for the rule in the same
// statement that inserts it.
func (r *postgresVersioningRepository) CreateVersion(ctx context.Context, version *RuleVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO rule_versions (id, rule_id, rule_type, rule_data, version, changed_by, change_reason, created_at)
		SELECT $1, $2, $3, $4, COALESCE(MAX(version), 0) + 1, $5, $6, $7
		FROM rule_versions WHERE rule_id = $2
		RETURNING version
	`

	err := r.db.QueryRowContext(ctx, query,
		version.ID, version.RuleID, version.RuleType, []byte(version.RuleData),
		version.ChangedBy, version.ChangeReason, version.CreatedAt,
	).Scan(&version.Version)
	if err != nil {
		return fmt.Errorf("failed to create rule version: %w", err)
	}

	return nil
}

const versionColumns = `id, rule_id, rule_type, rule_data, version, changed_by, change_reason, created_at`

func scanVersion(row interface{ Scan(...interface{}) error }) (RuleVersion, error) {
	var (
		v    RuleVersion
		data []byte
	)
	if err := row.Scan(&v.ID, &v.RuleID, &v.RuleType, &data, &v.Version, &v.ChangedBy, &v.ChangeReason, &v.CreatedAt); err != nil {
		return RuleVersion{}, err
	}
	v.RuleData = json.RawMessage(data)
	return v, nil
}

func (r *postgresVersioningRepository) GetVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM rule_versions WHERE rule_id = $1 ORDER BY version DESC`

	rows, err := r.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []RuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

func (r *postgresVersioningRepository) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM rule_versions WHERE rule_id = $1 AND version = $2`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, ruleID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.
			WithMessage("version %d of rule %s not found", version, ruleID).
			WithDetail("rule_id", ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &v, nil
}

func (r *postgresVersioningRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	var oldValueJSON, newValueJSON []byte
	var err error

	if log.OldValue != nil {
		if oldValueJSON, err = json.Marshal(log.OldValue); err != nil {
			return fmt.Errorf("failed to marshal old value: %w", err)
		}
	}
	if log.NewValue != nil {
		if newValueJSON, err = json.Marshal(log.NewValue); err != nil {
			return fmt.Errorf("failed to marshal new value: %w", err)
		}
	}

	query := `
		INSERT INTO rule_audit_logs (id, rule_id, rule_type, action, old_value, new_value, changed_by, change_reason, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID, log.RuleID, log.RuleType, log.Action,
		oldValueJSON, newValueJSON, log.ChangedBy, log.ChangeReason, log.IPAddress, log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

func (r *postgresVersioningRepository) GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error) {
	var id string
	if ruleID != nil {
		id = *ruleID
	}

	query := `
		SELECT id, rule_id, rule_type, action, old_value, new_value, changed_by, change_reason, ip_address, timestamp
		FROM rule_audit_logs
		WHERE ($1 = '' OR rule_id = $1) AND ($2 = '' OR rule_type = $2)
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, id, ruleType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var (
			log                        AuditLog
			oldValueJSON, newValueJSON []byte
			ruleIDPtr                  *string
		)

		if err := rows.Scan(
			&log.ID, &ruleIDPtr, &log.RuleType, &log.Action,
			&oldValueJSON, &newValueJSON, &log.ChangedBy, &log.ChangeReason, &log.IPAddress, &log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.RuleID = ruleIDPtr

		if len(oldValueJSON) > 0 {
			if err := json.Unmarshal(oldValueJSON, &log.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old value: %w", err)
			}
		}
		if len(newValueJSON) > 0 {
			if err := json.Unmarshal(newValueJSON, &log.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new value: %w", err)
			}
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}
