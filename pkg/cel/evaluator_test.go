package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/pkg/models"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `event_type == "state_changed"`,
			wantError: false,
		},
		{
			name:      "valid attribute comparison",
			expr:      `attributes.brightness > 100.0`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid bool expression",
			expr:      `new_state == "on"`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `entity_id`,
			wantError: true,
		},
		{
			name:      "valid startsWith",
			expr:      `entity_id.startsWith("light.")`,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	evt := models.Event{
		ID:           "evt-1",
		ConnectionID: "conn-1",
		EventType:    "state_changed",
		EntityID:     "light.kitchen",
		OldState:     "off",
		NewState:     "on",
		Timestamp:    time.Now(),
		Attributes: map[string]interface{}{
			"brightness": 180.0,
			"room":       "kitchen",
		},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
		wantErr  bool
	}{
		{name: "entity prefix", expr: `entity_id.startsWith("light.")`, expected: true},
		{name: "state transition", expr: `old_state == "off" && new_state == "on"`, expected: true},
		{name: "attribute numeric", expr: `attributes.brightness > 200.0`, expected: false},
		{name: "attribute string", expr: `attributes.room == "kitchen"`, expected: true},
		{name: "has attribute", expr: `has(attributes.color)`, expected: false},
		{name: "missing attribute errors", expr: `attributes.color == "red"`, wantErr: true},
		{name: "non bool", expr: `entity_id`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eval.EvaluateFilter(ctx, tt.expr, evt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluateFilter_CachesPrograms(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	evt := models.Event{ID: "e", EventType: "call_service", Timestamp: time.Now()}
	for i := 0; i < 3; i++ {
		ok, err := eval.EvaluateFilter(context.Background(), `event_type == "call_service"`, evt)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, eval.programs, 1)

	eval.Forget()
	assert.Empty(t, eval.programs)
}
