package models

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message this system publishes.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Key       string                 `json:"key,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

func NewEnvelope(msgType, source, key string, payload map[string]interface{}) Envelope {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Source:    source,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

const (
	TypeFilterRuleUpdated   = "filter_rule_updated"
	TypeFilterDecision      = "filter_decision"
	TypeBatchCompleted      = "batch_completed"
	TypeBatchFailed         = "batch_failed"
	TypeLifecycleTransition = "lifecycle_transition"
	TypeWorkflowStatus      = "workflow_status"
	TypeEmergencyStop       = "emergency_stop"
	TypeSuggestionReviewed  = "suggestion_reviewed"
	TypeDeadLetter          = "dead_letter"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)

// ConfigUpdateEvent tells ingestion workers to reload an owner's rule set.
type ConfigUpdateEvent struct {
	OwnerID   string    `json:"owner_id,omitempty"`
	RuleID    string    `json:"rule_id,omitempty"`
	Action    string    `json:"action"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ConfigUpdateEvent) ToPayload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":   e.OwnerID,
		"rule_id":    e.RuleID,
		"action":     e.Action,
		"changed_by": e.ChangedBy,
		"timestamp":  e.Timestamp,
	}
}

// ConfigUpdateFromPayload is the inverse of ToPayload; unknown shapes yield
// a reload-everything event.
func ConfigUpdateFromPayload(payload map[string]interface{}) ConfigUpdateEvent {
	evt := ConfigUpdateEvent{Action: ActionReload}
	if v, ok := payload["owner_id"].(string); ok {
		evt.OwnerID = v
	}
	if v, ok := payload["rule_id"].(string); ok {
		evt.RuleID = v
	}
	if v, ok := payload["action"].(string); ok && v != "" {
		evt.Action = v
	}
	if v, ok := payload["changed_by"].(string); ok {
		evt.ChangedBy = v
	}
	return evt
}
