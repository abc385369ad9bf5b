package management

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"homeflow/internal/filtering"
)

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    FilterRule
		wantErr string
	}{
		{
			name: "pattern with boolean expression",
			rule: FilterRule{OwnerID: "o", Name: "n", Type: "pattern", Action: "priority",
				Condition: filtering.Condition{Expression: `event_type == "alarm" && new_state == "on"`}},
		},
		{
			name: "expression must be boolean",
			rule: FilterRule{OwnerID: "o", Name: "n", Type: "custom", Action: "allow",
				Condition: filtering.Condition{Expression: `entity_id + "x"`}},
			wantErr: "invalid CEL expression",
		},
		{
			name: "expression must compile",
			rule: FilterRule{OwnerID: "o", Name: "n", Type: "custom", Action: "allow",
				Condition: filtering.Condition{Expression: `unknown_var == 1`}},
			wantErr: "invalid CEL expression",
		},
		{
			name: "bad entity glob",
			rule: FilterRule{OwnerID: "o", Name: "n", Type: "entity", Action: "block",
				Condition: filtering.Condition{EntityPatterns: []string{"sensor.[a"}}},
			wantErr: "invalid entity pattern",
		},
		{
			name: "frequency rule",
			rule: FilterRule{OwnerID: "o", Name: "n", Type: "frequency", Action: "throttle",
				FrequencyLimit: 10, TimeWindowMinutes: 5},
		},
		{
			name:    "negative priority",
			rule:    FilterRule{OwnerID: "o", Name: "n", Type: "include", Action: "allow", Priority: -1},
			wantErr: "priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := ValidateRule(&rule)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
