package suggestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "homeflow/pkg/errors"
)

type Type string

const (
	TypePerformance    Type = "performance"
	TypeEfficiency     Type = "efficiency"
	TypeSafety         Type = "safety"
	TypeUserExperience Type = "user_experience"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypePerformance, TypeEfficiency, TypeSafety, TypeUserExperience:
		return t, nil
	default:
		return "", fmt.Errorf("unknown suggestion type %q", s)
	}
}

type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

func ParseImpact(s string) (Impact, error) {
	switch i := Impact(strings.ToLower(s)); i {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return i, nil
	default:
		return "", fmt.Errorf("unknown impact %q", s)
	}
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusImplemented Status = "implemented"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusApproved, StatusRejected, StatusImplemented:
		return st, nil
	default:
		return "", fmt.Errorf("unknown suggestion status %q", s)
	}
}

const (
	highConfidence = 0.80
	lowConfidence  = 0.50
)

type Suggestion struct {
	ID                     string          `json:"id"`
	AutomationID           string          `json:"automation_id"`
	Type                   Type            `json:"type"`
	Title                  string          `json:"title"`
	Description            string          `json:"description"`
	CurrentValue           string          `json:"current_value,omitempty"`
	SuggestedValue         string          `json:"suggested_value,omitempty"`
	SuggestedConfiguration json.RawMessage `json:"suggested_configuration,omitempty"`
	ExpectedImpact         Impact          `json:"expected_impact"`
	ConfidenceScore        float64         `json:"confidence_score"`
	Status                 Status          `json:"status"`
	Generator              string          `json:"generator,omitempty"`
	WorkflowID             string          `json:"workflow_id,omitempty"`
	ReviewedBy             string          `json:"reviewed_by,omitempty"`
	ReviewNotes            string          `json:"review_notes,omitempty"`
	ReviewedAt             *time.Time      `json:"reviewed_at,omitempty"`
	ImplementedAt          *time.Time      `json:"implemented_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

func (s *Suggestion) IsHighConfidence() bool {
	return s.ConfidenceScore >= highConfidence
}

func (s *Suggestion) IsLowConfidence() bool {
	return s.ConfidenceScore < lowConfidence
}

func invalidReview(s *Suggestion, op string) error {
	return pkgerrors.ErrInvalidTransition.
		WithMessage("cannot %s suggestion %s in status %s", op, s.ID, s.Status).
		WithDetail("suggestion_id", s.ID)
}

func (s *Suggestion) review(status Status, reviewer, notes string, now time.Time) {
	s.Status = status
	s.ReviewedBy = reviewer
	s.ReviewNotes = notes
	s.ReviewedAt = &now
	s.UpdatedAt = now
}

func (s *Suggestion) Approve(reviewer, notes string, now time.Time) error {
	if s.Status != StatusPending {
		return invalidReview(s, "approve")
	}
	s.review(StatusApproved, reviewer, notes, now)
	return nil
}

func (s *Suggestion) Reject(reviewer, notes string, now time.Time) error {
	if s.Status != StatusPending {
		return invalidReview(s, "reject")
	}
	s.review(StatusRejected, reviewer, notes, now)
	return nil
}

// MarkImplemented is accepted from PENDING as well as APPROVED.
func (s *Suggestion) MarkImplemented(reviewer, notes string, now time.Time) error {
	switch s.Status {
	case StatusPending, StatusApproved:
	default:
		return invalidReview(s, "mark implemented")
	}
	s.review(StatusImplemented, reviewer, notes, now)
	s.ImplementedAt = &now
	return nil
}

type Filter struct {
	AutomationID string
	Status       Status
	Limit        int
	Offset       int
}

type GenerateRequest struct {
	UserPatterns []string          `json:"user_patterns"`
	Preferences  map[string]string `json:"preferences"`
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}
