package suggestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	pkgerrors "homeflow/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, s *Suggestion) error
	Get(ctx context.Context, id string) (*Suggestion, error)
	Update(ctx context.Context, s *Suggestion) error
	List(ctx context.Context, f Filter) ([]Suggestion, error)
}

const suggestionColumns = `id, automation_id, suggestion_type, title, description, current_value, suggested_value,
	suggested_configuration, expected_impact, confidence_score, status, generator, workflow_id,
	reviewed_by, review_notes, reviewed_at, implemented_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *Suggestion) error {
	query := `INSERT INTO optimization_suggestions (` + suggestionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $16, $17, $18, $19)`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.AutomationID, string(s.Type), s.Title, s.Description, s.CurrentValue, s.SuggestedValue,
		nullableJSON(s.SuggestedConfiguration), string(s.ExpectedImpact), s.ConfidenceScore, string(s.Status),
		s.Generator, s.WorkflowID, s.ReviewedBy, s.ReviewNotes, s.ReviewedAt, s.ImplementedAt,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create suggestion: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Suggestion, error) {
	s, err := scanSuggestion(r.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM optimization_suggestions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("suggestion %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Update(ctx context.Context, s *Suggestion) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE optimization_suggestions
		SET status = $1, workflow_id = NULLIF($2, ''), reviewed_by = $3, review_notes = $4,
			reviewed_at = $5, implemented_at = $6, updated_at = $7
		WHERE id = $8
	`, string(s.Status), s.WorkflowID, s.ReviewedBy, s.ReviewNotes, s.ReviewedAt, s.ImplementedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update suggestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrNotFound.WithMessage("suggestion %s not found", s.ID)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Suggestion, error) {
	var (
		args       []interface{}
		conditions []string
	)
	if f.AutomationID != "" {
		args = append(args, f.AutomationID)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + suggestionColumns + ` FROM optimization_suggestions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY confidence_score DESC, created_at DESC"
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
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row rowScanner) (*Suggestion, error) {
	var (
		s                                         Suggestion
		suggestionType, impact, status            string
		current, suggested, generator, workflowID sql.NullString
		reviewedBy, reviewNotes                   sql.NullString
		configuration                             []byte
	)
	err := row.Scan(
		&s.ID, &s.AutomationID, &suggestionType, &s.Title, &s.Description, &current, &suggested,
		&configuration, &impact, &s.ConfidenceScore, &status, &generator, &workflowID,
		&reviewedBy, &reviewNotes, &s.ReviewedAt, &s.ImplementedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Type = Type(suggestionType)
	s.ExpectedImpact = Impact(impact)
	s.Status = Status(status)
	s.CurrentValue = current.String
	s.SuggestedValue = suggested.String
	s.Generator = generator.String
	s.WorkflowID = workflowID.String
	s.ReviewedBy = reviewedBy.String
	s.ReviewNotes = reviewNotes.String
	if len(configuration) > 0 {
		s.SuggestedConfiguration = configuration
	}
	return &s, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
