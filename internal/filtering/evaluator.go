package filtering

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/cel"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
)

type evaluationFallback int

const (
	fallbackSkipRule evaluationFallback = iota
	fallbackAllow
	fallbackDeny
)

// Evaluator turns one event plus an ordered rule set into a Decision.
// It is safe for concurrent use.
type Evaluator struct {
	cel     *cel.Evaluator
	policy  ImportancePolicy
	window  WindowCounter
	matches *MatchCounters
	clock   clockwork.Clock
	onError string
	logger  logger.Logger
}

type EvaluatorOption func(*Evaluator)

func WithImportancePolicy(p ImportancePolicy) EvaluatorOption {
	return func(e *Evaluator) { e.policy = p }
}

func WithWindowCounter(w WindowCounter) EvaluatorOption {
	return func(e *Evaluator) { e.window = w }
}

func WithMatchCounters(m *MatchCounters) EvaluatorOption {
	return func(e *Evaluator) { e.matches = m }
}

func WithClock(c clockwork.Clock) EvaluatorOption {
	return func(e *Evaluator) { e.clock = c }
}

// WithErrorFallback sets what a failing condition resolves to: "allow",
// "deny" or "skip".
func WithErrorFallback(onError string) EvaluatorOption {
	return func(e *Evaluator) { e.onError = onError }
}

func NewEvaluator(log logger.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	celEval, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	e := &Evaluator{
		cel:     celEval,
		policy:  DefaultImportancePolicy(),
		window:  NewMemoryWindow(),
		matches: NewMatchCounters(),
		clock:   clockwork.NewRealClock(),
		onError: constants.FallbackSkip,
		logger:  log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Evaluator) Matches() *MatchCounters {
	return e.matches
}

// ValidateExpression checks a CEL condition without evaluating it.
func (e *Evaluator) ValidateExpression(expression string) error {
	return e.cel.ValidateFilterExpression(expression)
}

// SortRules orders rules for evaluation: ascending priority, then creation
// time, then ID.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return ruleLess(rules[i], rules[j]) })
}

func ruleLess(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Evaluate returns exactly one decision for evt. The first enabled rule whose
// condition matches decides; later rules are not consulted.
func (e *Evaluator) Evaluate(ctx context.Context, evt models.Event, rules []Rule) Decision {
	start := e.clock.Now()

	if !sort.SliceIsSorted(rules, func(i, j int) bool { return ruleLess(rules[i], rules[j]) }) {
		ordered := make([]Rule, len(rules))
		copy(ordered, rules)
		SortRules(ordered)
		rules = ordered
	}

	decision := e.evaluate(ctx, evt, rules)

	source := "rule"
	if !decision.Matched() {
		source = "default"
	}
	metrics.IncFilterDecision(string(decision.Action), source)
	metrics.ObserveFilterEvaluation(e.clock.Since(start), string(decision.Action))

	return decision
}

func (e *Evaluator) evaluate(ctx context.Context, evt models.Event, rules []Rule) Decision {
	important := e.policy.IsImportant(evt)

	for _, rule := range rules {
		if !rule.Enabled || !rule.appliesTo(evt.ConnectionID) {
			continue
		}

		matched, err := e.matchCondition(ctx, rule, evt)
		if err != nil {
			switch e.handleEvaluationError(ctx, rule, err) {
			case fallbackAllow:
				return Decision{Action: ActionAllow, RuleID: rule.ID, Important: important}
			case fallbackDeny:
				return Decision{Action: ActionBlock, RuleID: rule.ID, Important: important}
			default:
				continue
			}
		}
		if !matched {
			continue
		}

		now := e.clock.Now()
		e.matches.Record(rule.ID, now)

		decision := Decision{Action: rule.Action, RuleID: rule.ID, Important: important}
		if rule.Type == RuleTypeFrequency && e.exceedsFrequency(ctx, rule, evt, now) {
			decision.Action = ActionThrottle
			decision.Throttled = true
			metrics.FilterThrottledTotal.Inc()
		}
		metrics.IncFilterRuleMatch(rule.ID, string(decision.Action))
		return decision
	}

	if important {
		return Decision{Action: ActionAllow, Important: true}
	}
	return Decision{Action: ActionBlock}
}

func (e *Evaluator) matchCondition(ctx context.Context, rule Rule, evt models.Event) (bool, error) {
	cond := rule.Condition

	if rule.Type == RuleTypeStateChange && !evt.StateChanged() {
		return false, nil
	}

	if len(cond.EventTypes) > 0 && !containsString(cond.EventTypes, evt.EventType) {
		return false, nil
	}

	if len(cond.EntityPatterns) > 0 {
		ok, err := matchEntity(cond.EntityPatterns, evt.EntityID)
		if err != nil || !ok {
			return false, err
		}
	}

	if cond.FromState != "" && cond.FromState != evt.OldState {
		return false, nil
	}
	if cond.ToState != "" && cond.ToState != evt.NewState {
		return false, nil
	}

	for key, want := range cond.Attributes {
		got, ok := evt.Attributes[key]
		if !ok || fmt.Sprint(got) != want {
			return false, nil
		}
	}

	if cond.Expression != "" {
		return e.cel.EvaluateFilter(ctx, cond.Expression, evt)
	}

	return true, nil
}

func matchEntity(patterns []string, entityID string) (bool, error) {
	if entityID == "" {
		return false, nil
	}
	for _, pattern := range patterns {
		ok, err := path.Match(pattern, entityID)
		if err != nil {
			return false, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) exceedsFrequency(ctx context.Context, rule Rule, evt models.Event, now time.Time) bool {
	if rule.FrequencyLimit <= 0 || rule.TimeWindowMinutes <= 0 {
		return false
	}

	count, err := e.window.Hit(ctx, windowKey(rule.ID, evt.EntityID), now, rule.Window())
	if err != nil {
		e.logger.WarnwCtx(ctx, "Frequency window unavailable, not throttling",
			"rule_id", rule.ID,
			"error", err,
		)
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "no_throttle", "window_error").Inc()
		return false
	}

	return count > rule.FrequencyLimit
}

func (e *Evaluator) handleEvaluationError(ctx context.Context, rule Rule, err error) evaluationFallback {
	e.logger.ErrorwCtx(ctx, "Rule evaluation error",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"error", err,
	)
	metrics.IncFilterRuleMatch(rule.ID, "error")

	switch e.onError {
	case constants.FallbackAllow:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "allow_on_error", "evaluation_error").Inc()
		e.logger.WarnwCtx(ctx, "Evaluation error, allowing event (fallback: allow)",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
		)
		return fallbackAllow
	case constants.FallbackDeny:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "deny_on_error", "evaluation_error").Inc()
		e.logger.WarnwCtx(ctx, "Evaluation error, blocking event (fallback: deny)",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
		)
		return fallbackDeny
	default:
		return fallbackSkipRule
	}
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
