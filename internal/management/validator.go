package management

import (
	"fmt"
	"path"

	"homeflow/internal/filtering"
	"homeflow/pkg/cel"
)

// ValidateRule checks a fully assembled rule before it is stored and
// normalizes its type and action.
func ValidateRule(rule *FilterRule) error {
	if rule.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if rule.Name == "" {
		return fmt.Errorf("name is required")
	}
	ruleType, err := filtering.ParseRuleType(string(rule.Type))
	if err != nil {
		return err
	}
	action, err := filtering.ParseAction(string(rule.Action))
	if err != nil {
		return err
	}
	rule.Type, rule.Action = ruleType, action
	if rule.Priority < 0 {
		return fmt.Errorf("priority must be non-negative")
	}

	if rule.Type == filtering.RuleTypeFrequency {
		if rule.FrequencyLimit <= 0 {
			return fmt.Errorf("frequency_limit must be positive for frequency rules")
		}
		if rule.TimeWindowMinutes <= 0 {
			return fmt.Errorf("time_window_minutes must be positive for frequency rules")
		}
	}

	for _, p := range rule.Condition.EntityPatterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid entity pattern %q: %w", p, err)
		}
	}

	expr := rule.Condition.Expression
	if rule.Type.RequiresExpression() && expr == "" {
		return fmt.Errorf("condition.expression is required for %s rules", rule.Type)
	}
	if expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		if err := evaluator.ValidateFilterExpression(expr); err != nil {
			return fmt.Errorf("invalid CEL expression: %w", err)
		}
	}

	return nil
}

func ruleFromRequest(req CreateFilterRuleRequest) *FilterRule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &FilterRule{
		OwnerID:           req.OwnerID,
		ConnectionID:      req.ConnectionID,
		Name:              req.Name,
		Description:       req.Description,
		Type:              filtering.RuleType(req.Type),
		Action:            filtering.Action(req.Action),
		Condition:         req.Condition,
		FrequencyLimit:    req.FrequencyLimit,
		TimeWindowMinutes: req.TimeWindowMinutes,
		Priority:          req.Priority,
		Enabled:           enabled,
	}
}

func applyUpdate(rule *FilterRule, req UpdateFilterRuleRequest) {
	if req.ConnectionID != nil {
		rule.ConnectionID = *req.ConnectionID
	}
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Type != nil {
		rule.Type = filtering.RuleType(*req.Type)
	}
	if req.Action != nil {
		rule.Action = filtering.Action(*req.Action)
	}
	if req.Condition != nil {
		rule.Condition = *req.Condition
	}
	if req.FrequencyLimit != nil {
		rule.FrequencyLimit = *req.FrequencyLimit
	}
	if req.TimeWindowMinutes != nil {
		rule.TimeWindowMinutes = *req.TimeWindowMinutes
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}
