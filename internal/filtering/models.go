package filtering

import (
	"fmt"
	"strings"
	"time"
)

type RuleType string

const (
	RuleTypeInclude     RuleType = "include"
	RuleTypeExclude     RuleType = "exclude"
	RuleTypeFrequency   RuleType = "frequency"
	RuleTypePattern     RuleType = "pattern"
	RuleTypeEntity      RuleType = "entity"
	RuleTypeStateChange RuleType = "state_change"
	RuleTypeCustom      RuleType = "custom"
)

func ParseRuleType(s string) (RuleType, error) {
	switch t := RuleType(strings.ToLower(s)); t {
	case RuleTypeInclude, RuleTypeExclude, RuleTypeFrequency, RuleTypePattern,
		RuleTypeEntity, RuleTypeStateChange, RuleTypeCustom:
		return t, nil
	default:
		return "", fmt.Errorf("unknown rule type %q", s)
	}
}

// RequiresExpression reports whether the rule type is driven by a CEL
// expression rather than only by structured fields.
func (t RuleType) RequiresExpression() bool {
	return t == RuleTypePattern || t == RuleTypeCustom
}

type Action string

const (
	ActionAllow    Action = "allow"
	ActionBlock    Action = "block"
	ActionThrottle Action = "throttle"
	ActionBatch    Action = "batch"
	ActionPriority Action = "priority"
	ActionLogOnly  Action = "log_only"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionAllow, ActionBlock, ActionThrottle, ActionBatch, ActionPriority, ActionLogOnly:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rule action %q", s)
	}
}

// Persists reports whether events with this action are stored.
func (a Action) Persists() bool {
	switch a {
	case ActionAllow, ActionThrottle, ActionBatch, ActionPriority:
		return true
	default:
		return false
	}
}

// Condition is the structured predicate of a rule. Every non-empty field
// must match; an empty condition matches every event.
type Condition struct {
	EventTypes     []string          `json:"event_types,omitempty"`
	EntityPatterns []string          `json:"entity_patterns,omitempty"`
	FromState      string            `json:"from_state,omitempty"`
	ToState        string            `json:"to_state,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Expression     string            `json:"expression,omitempty"`
}

type Rule struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	ConnectionID      string     `json:"connection_id,omitempty"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Type              RuleType   `json:"type"`
	Action            Action     `json:"action"`
	Condition         Condition  `json:"condition"`
	FrequencyLimit    int        `json:"frequency_limit,omitempty"`
	TimeWindowMinutes int        `json:"time_window_minutes,omitempty"`
	Priority          int        `json:"priority"`
	Enabled           bool       `json:"enabled"`
	MatchCount        int64      `json:"match_count"`
	LastMatchedAt     *time.Time `json:"last_matched_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Window returns the trailing window of a frequency rule.
func (r Rule) Window() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

func (r Rule) appliesTo(connectionID string) bool {
	return r.ConnectionID == "" || r.ConnectionID == connectionID
}

// Decision is the single outcome of evaluating one event.
type Decision struct {
	Action    Action `json:"action"`
	RuleID    string `json:"rule_id,omitempty"`
	Important bool   `json:"important"`
	Throttled bool   `json:"throttled,omitempty"`
}

// Matched reports whether a user rule produced the decision.
func (d Decision) Matched() bool {
	return d.RuleID != ""
}
