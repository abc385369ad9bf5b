package approval

import (
	"context"
	"encoding/json"

	"homeflow/internal/automation"
	pkgerrors "homeflow/pkg/errors"
)

// ChangeApplier carries out an approved (or unreviewed) change.
type ChangeApplier interface {
	Apply(ctx context.Context, workflowType Type, automationID string, change Change) error
}

// Automations is the slice of the lifecycle service the engine drives.
type Automations interface {
	Get(ctx context.Context, id string) (*automation.Automation, error)
	List(ctx context.Context, f automation.Filter) ([]automation.Automation, error)
	Transition(ctx context.Context, req automation.TransitionRequest) (*automation.Automation, error)
	UpdateConfiguration(ctx context.Context, id string, configuration json.RawMessage, reason string) (*automation.Automation, error)
}

// LifecycleApplier maps workflow types onto lifecycle operations.
type LifecycleApplier struct {
	automations Automations
}

func NewLifecycleApplier(automations Automations) *LifecycleApplier {
	return &LifecycleApplier{automations: automations}
}

func (a *LifecycleApplier) Apply(ctx context.Context, workflowType Type, automationID string, change Change) error {
	var err error
	switch workflowType {
	case TypeCreation:
		_, err = a.automations.Transition(ctx, automation.TransitionRequest{
			AutomationID: automationID,
			To:           automation.StateActive,
			Reason:       change.Reason,
		})
	case TypeRetirement:
		_, err = a.automations.Transition(ctx, automation.TransitionRequest{
			AutomationID: automationID,
			To:           automation.StateRetired,
			Reason:       change.Reason,
		})
	case TypeModification:
		_, err = a.automations.UpdateConfiguration(ctx, automationID, change.Configuration, change.Reason)
	default:
		err = pkgerrors.ErrValidation.WithMessage("unknown workflow type %q", workflowType)
	}
	return err
}
