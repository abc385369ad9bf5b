package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/approval"
	"homeflow/internal/automation"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
)

const testThreshold = 0.7

func newApprovals(t *testing.T, infra *TestInfra) (*approval.Engine, *automation.Service) {
	t.Helper()
	log := createTestLogger()
	automations := automation.NewService(automation.NewRepository(infra.PostgresDB), log)
	engine := approval.NewEngine(
		approval.NewRepository(infra.PostgresDB),
		approval.NewLifecycleApplier(automations),
		automations,
		testThreshold,
		log,
	)
	return engine, automations
}

func TestApproval_HighConfidenceWaitsForReview(t *testing.T) {
	infra := SetupTestInfra(t)
	engine, automations := newApprovals(t, infra)
	ctx := logging.WithActor(context.Background(), "planner")

	a, err := automations.Create(ctx, automation.CreateRequest{Name: "kitchen-fan", Configuration: json.RawMessage(`{"speed":1}`)})
	require.NoError(t, err)

	res, err := engine.RequestChange(ctx, approval.ChangeRequest{
		AutomationID:    a.ID,
		Type:            approval.TypeModification,
		ConfidenceScore: 0.9,
		Change:          approval.Change{Configuration: json.RawMessage(`{"speed":3}`), Reason: "humidity"},
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.NotNil(t, res.Workflow)
	assert.Equal(t, approval.StatusPending, res.Workflow.Status)
	assert.Equal(t, "planner", res.Workflow.RequestedBy)

	unchanged, err := automations.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"speed":1}`, string(unchanged.Configuration))

	reviewer := logging.WithActor(context.Background(), "carol")
	approved, err := engine.Approve(reviewer, res.Workflow.ID, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, approved.Status)
	assert.Equal(t, "carol", approved.ApprovedBy)

	changed, err := automations.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"speed":3}`, string(changed.Configuration))

	stored, err := engine.Get(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, stored.Status)
	assert.JSONEq(t, `{"speed":3}`, string(stored.ProposedChange.Configuration))

	_, err = engine.Reject(reviewer, res.Workflow.ID, "too late")
	assert.True(t, pkgerrors.IsInvalidWorkflowState(err))
}

func TestApproval_ThresholdIsExclusive(t *testing.T) {
	infra := SetupTestInfra(t)
	engine, automations := newApprovals(t, infra)
	ctx := context.Background()

	a, err := automations.Create(ctx, automation.CreateRequest{Name: "blinds"})
	require.NoError(t, err)

	res, err := engine.RequestChange(ctx, approval.ChangeRequest{
		AutomationID:    a.ID,
		Type:            approval.TypeCreation,
		ConfidenceScore: testThreshold,
		Change:          approval.Change{Reason: "enable"},
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Workflow)

	got, err := automations.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StateActive, got.State)

	pending, err := engine.List(ctx, approval.Filter{AutomationID: a.ID})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApproval_EmergencyStopAndRecovery(t *testing.T) {
	infra := SetupTestInfra(t)
	engine, automations := newApprovals(t, infra)
	ctx := context.Background()

	a, err := automations.Create(ctx, automation.CreateRequest{Name: "sprinklers"})
	require.NoError(t, err)
	_, err = automations.Transition(ctx, automation.TransitionRequest{AutomationID: a.ID, To: automation.StateActive})
	require.NoError(t, err)

	res, err := engine.RequestChange(ctx, approval.ChangeRequest{
		AutomationID:    a.ID,
		Type:            approval.TypeRetirement,
		ConfidenceScore: 0.95,
		Change:          approval.Change{Reason: "season over"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Workflow)

	w, stopLog, err := engine.TriggerEmergencyStop(ctx, res.Workflow.ID, "leak detected")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, w.Status)
	assert.True(t, w.EmergencyStop)
	assert.Equal(t, "leak detected", w.EmergencyReason)
	require.Len(t, stopLog.AffectedAutomations, 1)
	assert.Equal(t, a.ID, stopLog.AffectedAutomations[0].ID)

	paused, err := automations.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StatePaused, paused.State)

	l, err := engine.UpdateRecovery(ctx, stopLog.ID, approval.RecoveryInProgress, []string{"valve closed"})
	require.NoError(t, err)
	assert.Equal(t, approval.RecoveryInProgress, l.RecoveryStatus)

	l, err = engine.UpdateRecovery(ctx, stopLog.ID, approval.RecoveryRecovered, []string{"pipe replaced"})
	require.NoError(t, err)
	assert.NotNil(t, l.RecoveredAt)

	stored, err := engine.GetStopLog(ctx, stopLog.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"valve closed", "pipe replaced"}, stored.RecoveryActions)
	assert.Equal(t, res.Workflow.ID, stored.WorkflowID)

	_, err = engine.UpdateRecovery(ctx, stopLog.ID, approval.RecoveryFailed, nil)
	assert.True(t, pkgerrors.IsInvalidTransition(err))
}

func TestApproval_HaltAllPausesActiveOnly(t *testing.T) {
	infra := SetupTestInfra(t)
	engine, automations := newApprovals(t, infra)
	ctx := context.Background()

	active, err := automations.Create(ctx, automation.CreateRequest{Name: "porch-light"})
	require.NoError(t, err)
	_, err = automations.Transition(ctx, automation.TransitionRequest{AutomationID: active.ID, To: automation.StateActive})
	require.NoError(t, err)

	draft, err := automations.Create(ctx, automation.CreateRequest{Name: "draft-idea"})
	require.NoError(t, err)

	res, err := engine.RequestChange(ctx, approval.ChangeRequest{
		AutomationID:    draft.ID,
		Type:            approval.TypeCreation,
		ConfidenceScore: 0.99,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Workflow)

	stopLog, err := engine.HaltAll(ctx, approval.TriggerSystem, "power failure")
	require.NoError(t, err)
	require.Len(t, stopLog.AffectedAutomations, 1)
	assert.Equal(t, active.ID, stopLog.AffectedAutomations[0].ID)
	assert.Empty(t, stopLog.WorkflowID)

	got, err := automations.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StatePaused, got.State)

	got, err = automations.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, automation.StateDraft, got.State)

	w, err := engine.Get(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCancelled, w.Status)

	logs, err := engine.ListStopLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, approval.TriggerSystem, logs[0].TriggerType)

	_, err = engine.HaltAll(ctx, approval.TriggerSystem, "")
	assert.True(t, pkgerrors.IsValidation(err))
}
