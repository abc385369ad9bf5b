package automation

import (
	"time"

	pkgerrors "homeflow/pkg/errors"
)

var transitions = map[State][]State{
	StateDraft:   {StateActive, StateRetired},
	StateActive:  {StatePaused, StateRetired},
	StatePaused:  {StateActive, StateRetired},
	StateRetired: nil,
}

var executionTransitions = map[ExecutionState][]ExecutionState{
	ExecActive:   {ExecPending, ExecInactive, ExecRetired},
	ExecPending:  {ExecActive, ExecInactive, ExecRetired},
	ExecInactive: {ExecActive, ExecPending, ExecRetired},
	ExecRetired:  nil,
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionExecution(from, to ExecutionState) bool {
	for _, s := range executionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidTransition(a *Automation, from, to string) error {
	return pkgerrors.ErrInvalidTransition.
		WithMessage("automation %s cannot move from %s to %s", a.ID, from, to).
		WithDetail("automation_id", a.ID).
		WithDetail("from", from).
		WithDetail("to", to)
}

// applyTransition moves a to the target state and bumps its version. The
// automation is untouched when the move is not allowed.
func (a *Automation) applyTransition(to State, reason, actor string, now time.Time) error {
	if !CanTransition(a.State, to) {
		return invalidTransition(a, string(a.State), string(to))
	}

	a.State = to
	switch to {
	case StateActive:
		a.Active = true
		if a.ExecutionState != ExecRetired {
			a.ExecutionState = ExecActive
		}
	case StatePaused:
		a.Active = false
		if a.ExecutionState != ExecRetired {
			a.ExecutionState = ExecInactive
		}
	case StateRetired:
		a.Active = false
		a.ExecutionState = ExecRetired
		a.RetiredAt = &now
		a.RetirementReason = reason
	}
	a.touch(actor, now)
	return nil
}

func (a *Automation) applyExecutionTransition(to ExecutionState, reason, actor string, now time.Time) error {
	if a.State == StateRetired || !CanTransitionExecution(a.ExecutionState, to) {
		return invalidTransition(a, string(a.ExecutionState), string(to))
	}
	// Only a lifecycle-active automation may execute.
	if to == ExecActive && a.State != StateActive {
		return pkgerrors.ErrInvalidTransition.
			WithMessage("automation %s cannot execute while %s", a.ID, a.State).
			WithDetail("automation_id", a.ID).
			WithDetail("state", string(a.State))
	}

	a.ExecutionState = to
	if to == ExecRetired {
		a.State = StateRetired
		a.Active = false
		a.RetiredAt = &now
		a.RetirementReason = reason
	}
	a.touch(actor, now)
	return nil
}

// modifiable reports an error when the configuration may no longer change.
func (a *Automation) modifiable() error {
	if a.State == StateRetired {
		return pkgerrors.ErrInvalidTransition.
			WithMessage("automation %s is retired and cannot be modified", a.ID).
			WithDetail("automation_id", a.ID)
	}
	return nil
}

func (a *Automation) touch(actor string, now time.Time) {
	a.Version++
	a.ModifiedBy = actor
	a.UpdatedAt = now
}
