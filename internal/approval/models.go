package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeCreation     Type = "creation"
	TypeModification Type = "modification"
	TypeRetirement   Type = "retirement"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypeCreation, TypeModification, TypeRetirement:
		return t, nil
	default:
		return "", fmt.Errorf("unknown workflow type %q", s)
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown workflow status %q", s)
	}
}

// Change is the proposed modification a workflow gates.
type Change struct {
	Configuration json.RawMessage `json:"configuration,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	SuggestionID  string          `json:"suggestion_id,omitempty"`
}

type Workflow struct {
	ID                 string     `json:"id"`
	AutomationID       string     `json:"automation_id"`
	Type               Type       `json:"type"`
	Status             Status     `json:"status"`
	RequestedBy        string     `json:"requested_by"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	RejectedBy         string     `json:"rejected_by,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	ConfidenceScore    float64    `json:"confidence_score"`
	ProposedChange     Change     `json:"proposed_change"`
	EmergencyStop      bool       `json:"emergency_stop"`
	EmergencyStoppedAt *time.Time `json:"emergency_stopped_at,omitempty"`
	EmergencyReason    string     `json:"emergency_reason,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
	TriggerSystem    TriggerType = "system"
)

func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(strings.ToLower(s)); t {
	case TriggerManual, TriggerAutomatic, TriggerSystem:
		return t, nil
	default:
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
}

type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoveryRecovered  RecoveryStatus = "recovered"
	RecoveryFailed     RecoveryStatus = "failed"
)

func ParseRecoveryStatus(s string) (RecoveryStatus, error) {
	switch st := RecoveryStatus(strings.ToLower(s)); st {
	case RecoveryPending, RecoveryInProgress, RecoveryRecovered, RecoveryFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown recovery status %q", s)
	}
}

// AffectedAutomation is the state of one automation when a stop fired.
type AffectedAutomation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type EmergencyStopLog struct {
	ID                  string               `json:"id"`
	WorkflowID          string               `json:"workflow_id,omitempty"`
	TriggerType         TriggerType          `json:"trigger_type"`
	TriggeredBy         string               `json:"triggered_by"`
	Reason              string               `json:"reason"`
	AffectedAutomations []AffectedAutomation `json:"affected_automations"`
	RecoveryStatus      RecoveryStatus       `json:"recovery_status"`
	RecoveryActions     []string             `json:"recovery_actions,omitempty"`
	RecoveredAt         *time.Time           `json:"recovered_at,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

type ChangeRequest struct {
	AutomationID    string  `json:"automation_id" binding:"required"`
	Type            Type    `json:"type" binding:"required"`
	ConfidenceScore float64 `json:"confidence_score"`
	Change          Change  `json:"change"`
	Notes           string  `json:"notes"`
}

// RequestResult tells the caller whether a workflow was opened or the change
// went straight through.
type RequestResult struct {
	Workflow *Workflow `json:"workflow,omitempty"`
	Applied  bool      `json:"applied"`
}

type Filter struct {
	Status       Status
	AutomationID string
	Limit        int
	Offset       int
}
