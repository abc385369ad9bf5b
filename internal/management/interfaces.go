package management

import (
	"context"
	"time"

	"homeflow/internal/approval"
	"homeflow/internal/automation"
	"homeflow/internal/backup"
	"homeflow/internal/batch"
	"homeflow/internal/suggestion"
)

type Service interface {
	CreateFilterRule(ctx context.Context, req CreateFilterRuleRequest) (*FilterRule, error)
	ListFilterRules(ctx context.Context, f RuleListFilter) ([]FilterRule, error)
	GetFilterRule(ctx context.Context, id string) (*FilterRule, error)
	UpdateFilterRule(ctx context.Context, id string, req UpdateFilterRuleRequest) (*FilterRule, error)
	DeleteFilterRule(ctx context.Context, id string) error
	GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error)
	GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error)

	CreateConnection(ctx context.Context, req CreateConnectionRequest) (*Connection, error)
	ListConnections(ctx context.Context, ownerID string) ([]Connection, error)
}

// The handler depends on these narrow views of the domain services so each
// route group can be mounted independently.

type BatchStore interface {
	Save(ctx context.Context, b *batch.Batch) error
	Get(ctx context.Context, id string) (*batch.Batch, error)
	List(ctx context.Context, f batch.Filter) ([]batch.Batch, error)
}

type AutomationService interface {
	Create(ctx context.Context, req automation.CreateRequest) (*automation.Automation, error)
	Get(ctx context.Context, id string) (*automation.Automation, error)
	List(ctx context.Context, f automation.Filter) ([]automation.Automation, error)
	History(ctx context.Context, id string, limit int) ([]automation.HistoryRecord, error)
	Transition(ctx context.Context, req automation.TransitionRequest) (*automation.Automation, error)
	TransitionExecution(ctx context.Context, req automation.ExecutionTransitionRequest) (*automation.Automation, error)
	Rollback(ctx context.Context, id, backupID string) (*automation.Automation, error)
	RecordExecution(ctx context.Context, id string, success bool, latency time.Duration) (automation.StatsSnapshot, error)
}

type ApprovalService interface {
	RequestChange(ctx context.Context, req approval.ChangeRequest) (*approval.RequestResult, error)
	Get(ctx context.Context, id string) (*approval.Workflow, error)
	List(ctx context.Context, f approval.Filter) ([]approval.Workflow, error)
	Approve(ctx context.Context, id, notes string) (*approval.Workflow, error)
	Reject(ctx context.Context, id, reason string) (*approval.Workflow, error)
	Cancel(ctx context.Context, id string) (*approval.Workflow, error)
	TriggerEmergencyStop(ctx context.Context, workflowID, reason string) (*approval.Workflow, *approval.EmergencyStopLog, error)
	HaltAll(ctx context.Context, trigger approval.TriggerType, reason string) (*approval.EmergencyStopLog, error)
	UpdateRecovery(ctx context.Context, logID string, status approval.RecoveryStatus, actions []string) (*approval.EmergencyStopLog, error)
	GetStopLog(ctx context.Context, id string) (*approval.EmergencyStopLog, error)
	ListStopLogs(ctx context.Context, limit int) ([]approval.EmergencyStopLog, error)
}

type SuggestionService interface {
	Generate(ctx context.Context, automationID string, req suggestion.GenerateRequest) (*suggestion.Suggestion, error)
	Get(ctx context.Context, id string) (*suggestion.Suggestion, error)
	List(ctx context.Context, f suggestion.Filter) ([]suggestion.Suggestion, error)
	Approve(ctx context.Context, id, notes string) (*suggestion.Suggestion, error)
	Reject(ctx context.Context, id, notes string) (*suggestion.Suggestion, error)
	MarkImplemented(ctx context.Context, id, notes string) (*suggestion.Suggestion, error)
}

type BackupService interface {
	Create(ctx context.Context, automationID string, backupType backup.Type, payload []byte, metadata map[string]interface{}) (string, error)
	Get(ctx context.Context, id string) (*backup.Backup, error)
	ListForAutomation(ctx context.Context, automationID string, limit int) ([]backup.Backup, error)
}
