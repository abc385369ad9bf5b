package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "homeflow/pkg/errors"
)

var t0 = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDraft, StateActive, true},
		{StateDraft, StateRetired, true},
		{StateDraft, StatePaused, false},
		{StateActive, StatePaused, true},
		{StateActive, StateRetired, true},
		{StateActive, StateDraft, false},
		{StatePaused, StateActive, true},
		{StatePaused, StateRetired, true},
		{StatePaused, StatePaused, false},
		{StateRetired, StateActive, false},
		{StateRetired, StateDraft, false},
		{StateRetired, StateRetired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransitionExecution(t *testing.T) {
	assert.True(t, CanTransitionExecution(ExecActive, ExecPending))
	assert.True(t, CanTransitionExecution(ExecPending, ExecInactive))
	assert.True(t, CanTransitionExecution(ExecInactive, ExecActive))
	assert.False(t, CanTransitionExecution(ExecActive, ExecActive))
	for _, to := range []ExecutionState{ExecActive, ExecPending, ExecInactive, ExecRetired} {
		assert.False(t, CanTransitionExecution(ExecRetired, to))
	}
}

func TestApplyTransition_Retire(t *testing.T) {
	a := &Automation{ID: "a1", State: StateActive, ExecutionState: ExecActive, Version: 3, Active: true}

	require.NoError(t, a.applyTransition(StateRetired, "replaced by scene", "alice", t0))
	assert.Equal(t, StateRetired, a.State)
	assert.Equal(t, ExecRetired, a.ExecutionState)
	assert.Equal(t, 4, a.Version)
	assert.False(t, a.Active)
	require.NotNil(t, a.RetiredAt)
	assert.Equal(t, t0, *a.RetiredAt)
	assert.Equal(t, "replaced by scene", a.RetirementReason)
	assert.Equal(t, "alice", a.ModifiedBy)
}

func TestApplyTransition_RetiredIsAbsorbing(t *testing.T) {
	for _, to := range []State{StateDraft, StateActive, StatePaused, StateRetired} {
		t.Run(string(to), func(t *testing.T) {
			a := &Automation{ID: "a1", State: StateRetired, ExecutionState: ExecRetired, Version: 5}
			before := *a

			err := a.applyTransition(to, "", "bob", t0)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalidTransition(err))
			assert.Equal(t, before, *a)
		})
	}
}

func TestApplyExecutionTransition(t *testing.T) {
	a := &Automation{ID: "a1", State: StateActive, ExecutionState: ExecActive, Version: 1}
	require.NoError(t, a.applyExecutionTransition(ExecPending, "waiting for device", "system", t0))
	assert.Equal(t, ExecPending, a.ExecutionState)
	assert.Equal(t, 2, a.Version)

	require.NoError(t, a.applyExecutionTransition(ExecRetired, "device removed", "system", t0))
	assert.Equal(t, StateRetired, a.State)

	err := a.applyExecutionTransition(ExecActive, "", "system", t0)
	assert.True(t, pkgerrors.IsInvalidTransition(err))
}

func TestApplyExecutionTransition_ActiveRequiresActiveLifecycle(t *testing.T) {
	for _, state := range []State{StateDraft, StatePaused} {
		a := &Automation{ID: "a1", State: state, ExecutionState: ExecInactive, Version: 3}
		err := a.applyExecutionTransition(ExecActive, "", "system", t0)
		assert.True(t, pkgerrors.IsInvalidTransition(err), state)
		assert.Equal(t, ExecInactive, a.ExecutionState)
		assert.Equal(t, 3, a.Version)
	}

	a := &Automation{ID: "a1", State: StateActive, ExecutionState: ExecPending, Version: 3}
	require.NoError(t, a.applyExecutionTransition(ExecActive, "", "system", t0))
	assert.Equal(t, ExecActive, a.ExecutionState)
}

func TestParseStates(t *testing.T) {
	s, err := ParseState("PAUSED")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, s)
	_, err = ParseState("archived")
	assert.Error(t, err)

	e, err := ParseExecutionState("Pending")
	require.NoError(t, err)
	assert.Equal(t, ExecPending, e)
	_, err = ParseExecutionState("draft")
	assert.Error(t, err)
}
