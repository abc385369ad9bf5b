package filtering

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(t *testing.T, opts ...EvaluatorOption) (*Evaluator, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(baseTime)
	opts = append([]EvaluatorOption{WithClock(clock)}, opts...)
	e, err := NewEvaluator(logger.NopLogger(), opts...)
	require.NoError(t, err)
	return e, clock
}

func stateEvent(entity, from, to string) models.Event {
	return models.Event{
		ID:           "evt-" + entity,
		ConnectionID: "conn-1",
		EventType:    "state_changed",
		EntityID:     entity,
		OldState:     from,
		NewState:     to,
		Timestamp:    baseTime,
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	e, _ := newTestEvaluator(t)

	rules := []Rule{
		{ID: "r2", Type: RuleTypeInclude, Action: ActionAllow, Priority: 20, Enabled: true},
		{ID: "r1", Type: RuleTypeExclude, Action: ActionBlock, Priority: 10, Enabled: true,
			Condition: Condition{EntityPatterns: []string{"lock.*"}}},
	}

	decision := e.Evaluate(context.Background(), stateEvent("lock.front_door", "locked", "unlocked"), rules)
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "r1", decision.RuleID)

	assert.Equal(t, int64(1), e.Matches().Total("r1"))
	assert.Equal(t, int64(0), e.Matches().Total("r2"))

	decision = e.Evaluate(context.Background(), stateEvent("light.kitchen", "off", "on"), rules)
	assert.Equal(t, ActionAllow, decision.Action)
	assert.Equal(t, "r2", decision.RuleID)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e, _ := newTestEvaluator(t)
	rules := []Rule{
		{ID: "a", Type: RuleTypeEntity, Action: ActionBatch, Priority: 5, Enabled: true,
			Condition: Condition{EntityPatterns: []string{"sensor.*"}}},
	}
	evt := stateEvent("sensor.temp", "20", "21")

	first := e.Evaluate(context.Background(), evt, rules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(context.Background(), evt, rules))
	}
}

func TestEvaluate_DefaultsByImportance(t *testing.T) {
	e, _ := newTestEvaluator(t)

	tests := []struct {
		name      string
		evt       models.Event
		action    Action
		important bool
	}{
		{name: "safety sensor", evt: stateEvent("binary_sensor.smoke_kitchen", "off", "on"), action: ActionAllow, important: true},
		{name: "lock", evt: stateEvent("lock.back_door", "locked", "unlocked"), action: ActionAllow, important: true},
		{name: "ordinary light", evt: stateEvent("light.hall", "off", "on"), action: ActionBlock},
		{
			name:      "important type without entity",
			evt:       models.Event{ID: "x", ConnectionID: "c", EventType: "automation_triggered", Timestamp: baseTime},
			action:    ActionAllow,
			important: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(context.Background(), tt.evt, nil)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.important, d.Important)
			assert.False(t, d.Matched())
		})
	}
}

func TestEvaluate_CustomImportancePolicy(t *testing.T) {
	e, _ := newTestEvaluator(t, WithImportancePolicy(NewImportancePolicy([]string{"doorbell_pressed"}, []string{"camera."})))

	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), stateEvent("camera.porch", "idle", "recording"), nil).Action)
	assert.Equal(t, ActionBlock, e.Evaluate(context.Background(), stateEvent("lock.front", "locked", "unlocked"), nil).Action)
}

func TestEvaluate_SkipsDisabledAndOtherConnections(t *testing.T) {
	e, _ := newTestEvaluator(t)
	rules := []Rule{
		{ID: "disabled", Type: RuleTypeInclude, Action: ActionPriority, Priority: 1, Enabled: false},
		{ID: "scoped", Type: RuleTypeInclude, Action: ActionLogOnly, Priority: 2, Enabled: true, ConnectionID: "conn-2"},
		{ID: "fallback", Type: RuleTypeInclude, Action: ActionBatch, Priority: 3, Enabled: true},
	}
	d := e.Evaluate(context.Background(), stateEvent("light.x", "off", "on"), rules)
	assert.Equal(t, "fallback", d.RuleID)
	assert.Equal(t, ActionBatch, d.Action)
}

func TestEvaluate_ConditionFields(t *testing.T) {
	e, _ := newTestEvaluator(t)

	evt := stateEvent("climate.living_room", "heat", "off")
	evt.Attributes = map[string]interface{}{"hvac_mode": "heat", "temperature": 21.5}

	tests := []struct {
		name    string
		rule    Rule
		matched bool
	}{
		{name: "event type hit", rule: Rule{Type: RuleTypeInclude, Condition: Condition{EventTypes: []string{"state_changed"}}}, matched: true},
		{name: "event type miss", rule: Rule{Type: RuleTypeInclude, Condition: Condition{EventTypes: []string{"call_service"}}}},
		{name: "from state", rule: Rule{Type: RuleTypeStateChange, Condition: Condition{FromState: "heat"}}, matched: true},
		{name: "to state miss", rule: Rule{Type: RuleTypeStateChange, Condition: Condition{ToState: "cool"}}},
		{name: "attribute equality", rule: Rule{Type: RuleTypeInclude, Condition: Condition{Attributes: map[string]string{"temperature": "21.5"}}}, matched: true},
		{name: "attribute missing", rule: Rule{Type: RuleTypeInclude, Condition: Condition{Attributes: map[string]string{"fan": "on"}}}},
		{name: "cel expression", rule: Rule{Type: RuleTypeCustom, Condition: Condition{Expression: `attributes.temperature > 20.0 && new_state == "off"`}}, matched: true},
		{name: "pattern miss", rule: Rule{Type: RuleTypePattern, Condition: Condition{Expression: `entity_id.startsWith("light.")`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			rule.ID = "rule"
			rule.Action = ActionAllow
			rule.Enabled = true
			d := e.Evaluate(context.Background(), evt, []Rule{rule})
			assert.Equal(t, tt.matched, d.Matched())
		})
	}
}

func TestEvaluate_StateChangeRequiresTransition(t *testing.T) {
	e, _ := newTestEvaluator(t)
	rules := []Rule{{ID: "sc", Type: RuleTypeStateChange, Action: ActionAllow, Enabled: true}}

	assert.False(t, e.Evaluate(context.Background(), stateEvent("light.a", "on", "on"), rules).Matched())
	assert.True(t, e.Evaluate(context.Background(), stateEvent("light.a", "off", "on"), rules).Matched())
}

func TestEvaluate_FrequencyThrottle(t *testing.T) {
	e, clock := newTestEvaluator(t)
	rules := []Rule{{
		ID:                "freq",
		Type:              RuleTypeFrequency,
		Action:            ActionAllow,
		Enabled:           true,
		FrequencyLimit:    2,
		TimeWindowMinutes: 5,
		Condition:         Condition{EntityPatterns: []string{"sensor.*"}},
	}}
	evt := stateEvent("sensor.motion", "off", "on")

	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), evt, rules).Action)
	clock.Advance(time.Minute)
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), evt, rules).Action)
	clock.Advance(time.Minute)

	d := e.Evaluate(context.Background(), evt, rules)
	assert.Equal(t, ActionThrottle, d.Action)
	assert.True(t, d.Throttled)
	assert.Equal(t, int64(3), e.Matches().Total("freq"))

	// another entity has its own window
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), stateEvent("sensor.door", "off", "on"), rules).Action)

	clock.Advance(5 * time.Minute)
	assert.Equal(t, ActionAllow, e.Evaluate(context.Background(), evt, rules).Action)
}

func TestEvaluate_ErrorFallback(t *testing.T) {
	broken := Rule{ID: "broken", Type: RuleTypeCustom, Action: ActionPriority, Priority: 1, Enabled: true,
		Condition: Condition{Expression: `attributes.missing == "x"`}}
	next := Rule{ID: "next", Type: RuleTypeInclude, Action: ActionBatch, Priority: 2, Enabled: true}
	evt := stateEvent("light.a", "off", "on")

	tests := []struct {
		onError string
		action  Action
		ruleID  string
	}{
		{onError: constants.FallbackSkip, action: ActionBatch, ruleID: "next"},
		{onError: constants.FallbackAllow, action: ActionAllow, ruleID: "broken"},
		{onError: constants.FallbackDeny, action: ActionBlock, ruleID: "broken"},
	}

	for _, tt := range tests {
		t.Run(tt.onError, func(t *testing.T) {
			e, _ := newTestEvaluator(t, WithErrorFallback(tt.onError))
			d := e.Evaluate(context.Background(), evt, []Rule{broken, next})
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.ruleID, d.RuleID)
		})
	}
}

func TestSortRules(t *testing.T) {
	rules := []Rule{
		{ID: "c", Priority: 5, CreatedAt: baseTime},
		{ID: "b", Priority: 1, CreatedAt: baseTime.Add(time.Second)},
		{ID: "a", Priority: 1, CreatedAt: baseTime.Add(time.Second)},
		{ID: "d", Priority: 1, CreatedAt: baseTime},
	}
	SortRules(rules)

	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}

func TestParseEnums(t *testing.T) {
	rt, err := ParseRuleType("STATE_CHANGE")
	require.NoError(t, err)
	assert.Equal(t, RuleTypeStateChange, rt)

	_, err = ParseRuleType("regex")
	assert.Error(t, err)

	a, err := ParseAction("log_only")
	require.NoError(t, err)
	assert.False(t, a.Persists())
	assert.True(t, ActionThrottle.Persists())

	_, err = ParseAction("drop")
	assert.Error(t, err)
}
