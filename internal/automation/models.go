package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the management-facing lifecycle state.
type State string

const (
	StateDraft   State = "draft"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateRetired State = "retired"
)

func ParseState(s string) (State, error) {
	switch st := State(strings.ToLower(s)); st {
	case StateDraft, StateActive, StatePaused, StateRetired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown automation state %q", s)
	}
}

// ExecutionState is the state the automation holds on the execution side.
type ExecutionState string

const (
	ExecActive   ExecutionState = "active"
	ExecPending  ExecutionState = "pending"
	ExecInactive ExecutionState = "inactive"
	ExecRetired  ExecutionState = "retired"
)

func ParseExecutionState(s string) (ExecutionState, error) {
	switch st := ExecutionState(strings.ToLower(s)); st {
	case ExecActive, ExecPending, ExecInactive, ExecRetired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown execution state %q", s)
	}
}

type Metrics struct {
	ExecutionCount  int64      `json:"execution_count"`
	SuccessRate     float64    `json:"success_rate"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
}

type Automation struct {
	ID                   string          `json:"id"`
	PlatformAutomationID string          `json:"platform_automation_id,omitempty"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	State                State           `json:"state"`
	ExecutionState       ExecutionState  `json:"execution_state"`
	Version              int             `json:"version"`
	Metrics              Metrics         `json:"metrics"`
	CreatedBy            string          `json:"created_by"`
	ModifiedBy           string          `json:"modified_by"`
	Active               bool            `json:"active"`
	RetiredAt            *time.Time      `json:"retired_at,omitempty"`
	RetirementReason     string          `json:"retirement_reason,omitempty"`
	Configuration        json.RawMessage `json:"configuration"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Snapshot is what a backup of an automation holds.
type Snapshot struct {
	State          State           `json:"state"`
	ExecutionState ExecutionState  `json:"execution_state"`
	Version        int             `json:"version"`
	Configuration  json.RawMessage `json:"configuration"`
}

func (a *Automation) Snapshot() Snapshot {
	return Snapshot{
		State:          a.State,
		ExecutionState: a.ExecutionState,
		Version:        a.Version,
		Configuration:  a.Configuration,
	}
}

type HistoryKind string

const (
	HistoryLifecycle    HistoryKind = "lifecycle"
	HistoryExecution    HistoryKind = "execution"
	HistoryModification HistoryKind = "modification"
	HistoryRollback     HistoryKind = "rollback"
)

// HistoryRecord is an append-only entry describing one change.
type HistoryRecord struct {
	ID           string      `json:"id"`
	AutomationID string      `json:"automation_id"`
	Kind         HistoryKind `json:"kind"`
	FromState    string      `json:"from_state"`
	ToState      string      `json:"to_state"`
	Reason       string      `json:"reason,omitempty"`
	Version      int         `json:"version"`
	BackupID     string      `json:"backup_id,omitempty"`
	ChangedBy    string      `json:"changed_by"`
	CreatedAt    time.Time   `json:"created_at"`
}

type CreateRequest struct {
	Name                 string          `json:"name" binding:"required"`
	Description          string          `json:"description"`
	PlatformAutomationID string          `json:"platform_automation_id"`
	Configuration        json.RawMessage `json:"configuration"`
}

type TransitionRequest struct {
	AutomationID string `json:"-"`
	To           State  `json:"to" binding:"required"`
	Reason       string `json:"reason"`
}

type ExecutionTransitionRequest struct {
	AutomationID string         `json:"-"`
	To           ExecutionState `json:"to" binding:"required"`
	Reason       string         `json:"reason"`
}

type Filter struct {
	State  State
	Limit  int
	Offset int
}
