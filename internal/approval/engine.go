package approval

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"homeflow/internal/automation"
	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/tracing"
)

// Publisher is satisfied by broker.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

type Engine struct {
	repo        Repository
	applier     ChangeApplier
	automations Automations
	threshold   float64
	publisher   Publisher
	topic       string
	clock       clockwork.Clock
	logger      logger.Logger
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithPublisher(p Publisher, topic string) Option {
	return func(e *Engine) {
		e.publisher = p
		e.topic = topic
	}
}

// NewEngine builds an approval engine. Changes whose confidence exceeds
// threshold wait for review; the rest go straight to applier.
func NewEngine(repo Repository, applier ChangeApplier, automations Automations, threshold float64, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		applier:     applier,
		automations: automations,
		threshold:   threshold,
		clock:       clockwork.NewRealClock(),
		logger:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// RequiresApproval reports whether a change with this confidence is gated.
func (e *Engine) RequiresApproval(confidence float64) bool {
	return confidence > e.threshold
}

func (e *Engine) RequestChange(ctx context.Context, req ChangeRequest) (*RequestResult, error) {
	if req.AutomationID == "" {
		return nil, pkgerrors.ErrValidation.WithMessage("automation_id is required")
	}
	wfType, err := ParseType(string(req.Type))
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	if req.ConfidenceScore < 0 || req.ConfidenceScore > 1 {
		return nil, pkgerrors.ErrValidation.WithMessage("confidence_score must be between 0 and 1")
	}
	if wfType == TypeModification && (len(req.Change.Configuration) == 0 || !json.Valid(req.Change.Configuration)) {
		return nil, pkgerrors.ErrValidation.WithMessage("modification requires a valid JSON configuration")
	}
	if _, err := e.automations.Get(ctx, req.AutomationID); err != nil {
		return nil, err
	}

	ctx = logging.WithAutomationID(ctx, req.AutomationID)

	if !e.RequiresApproval(req.ConfidenceScore) {
		if err := e.applier.Apply(ctx, wfType, req.AutomationID, req.Change); err != nil {
			return nil, err
		}
		metrics.IncWorkflow(string(wfType), "bypassed")
		e.logger.InfowCtx(ctx, "Change applied without approval",
			"type", wfType,
			"confidence", req.ConfidenceScore,
			"threshold", e.threshold,
		)
		return &RequestResult{Applied: true}, nil
	}

	now := e.clock.Now().UTC()
	w := &Workflow{
		ID:              uuid.New().String(),
		AutomationID:    req.AutomationID,
		Type:            wfType,
		Status:          StatusPending,
		RequestedBy:     logging.GetActor(ctx),
		RequestedAt:     now,
		Notes:           req.Notes,
		ConfidenceScore: req.ConfidenceScore,
		ProposedChange:  req.Change,
		UpdatedAt:       now,
	}
	if err := e.repo.CreateWorkflow(ctx, w); err != nil {
		return nil, err
	}

	metrics.IncWorkflow(string(wfType), string(StatusPending))
	e.logger.InfowCtx(logging.WithWorkflowID(ctx, w.ID), "Approval workflow opened",
		"type", wfType,
		"confidence", req.ConfidenceScore,
	)
	e.publishStatus(ctx, w)
	return &RequestResult{Workflow: w}, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*Workflow, error) {
	return e.repo.GetWorkflow(ctx, id)
}

func (e *Engine) List(ctx context.Context, f Filter) ([]Workflow, error) {
	return e.repo.ListWorkflows(ctx, f)
}

// Approve claims the workflow as APPROVED and then applies the proposed
// change. When the change cannot be applied the workflow returns to
// PENDING. An emergency stop that lands while the change is applied wins:
// the automation is paused again and Approve reports InvalidWorkflowState.
func (e *Engine) Approve(ctx context.Context, id, notes string) (*Workflow, error) {
	w, err := e.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAutomationID(logging.WithWorkflowID(ctx, id), w.AutomationID)
	ctx, span := tracing.StartWorkflowSpan(ctx, "approval.approve", id)
	defer span.End()

	approved := *w
	if err := approved.Approve(logging.GetActor(ctx), notes, e.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateWorkflowFrom(ctx, &approved, StatusPending); err != nil {
		return nil, err
	}

	if err := e.applier.Apply(ctx, w.Type, w.AutomationID, w.ProposedChange); err != nil {
		tracing.Fail(span, err)
		e.logger.ErrorwCtx(ctx, "Approved change could not be applied", "error", err)
		w.UpdatedAt = e.clock.Now().UTC()
		if rerr := e.repo.UpdateWorkflowFrom(ctx, w, StatusApproved); rerr != nil {
			e.logger.WarnwCtx(ctx, "Could not return workflow to pending", "error", rerr)
		}
		return nil, err
	}

	current, err := e.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusApproved {
		if current.EmergencyStop {
			e.pauseIfActive(ctx, w.AutomationID, current.EmergencyReason)
		}
		err := invalidState(current, "approve")
		tracing.Fail(span, err)
		e.logger.WarnwCtx(ctx, "Workflow stopped while its change was applied",
			"status", current.Status,
			"emergency_stop", current.EmergencyStop,
		)
		return nil, err
	}

	metrics.IncWorkflow(string(w.Type), string(StatusApproved))
	e.logger.InfowCtx(ctx, "Workflow approved", "approved_by", approved.ApprovedBy)
	e.publishStatus(ctx, current)
	return current, nil
}

func (e *Engine) Reject(ctx context.Context, id, reason string) (*Workflow, error) {
	return e.finish(ctx, id, StatusRejected, func(w *Workflow) error {
		return w.Reject(logging.GetActor(ctx), reason, e.clock.Now().UTC())
	})
}

func (e *Engine) Cancel(ctx context.Context, id string) (*Workflow, error) {
	return e.finish(ctx, id, StatusCancelled, func(w *Workflow) error {
		return w.Cancel(e.clock.Now().UTC())
	})
}

func (e *Engine) finish(ctx context.Context, id string, status Status, op func(w *Workflow) error) (*Workflow, error) {
	w, err := e.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, id)

	if err := op(w); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateWorkflowFrom(ctx, w, StatusPending); err != nil {
		return nil, err
	}

	metrics.IncWorkflow(string(w.Type), string(status))
	e.logger.InfowCtx(ctx, "Workflow closed", "status", status)
	e.publishStatus(ctx, w)
	return w, nil
}

// TriggerEmergencyStop force-cancels a workflow in any status, pauses its
// automation when active and records a stop log. Calling it again
// refreshes the reason and timestamp.
func (e *Engine) TriggerEmergencyStop(ctx context.Context, workflowID, reason string) (*Workflow, *EmergencyStopLog, error) {
	if reason == "" {
		return nil, nil, pkgerrors.ErrValidation.WithMessage("emergency stop reason is required")
	}
	w, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	ctx = logging.WithAutomationID(logging.WithWorkflowID(ctx, workflowID), w.AutomationID)
	now := e.clock.Now().UTC()

	w.TriggerEmergencyStop(reason, now)
	if err := e.repo.UpdateWorkflow(ctx, w); err != nil {
		return nil, nil, err
	}

	var affected []AffectedAutomation
	if a := e.pauseIfActive(ctx, w.AutomationID, reason); a != nil {
		affected = append(affected, *a)
	}

	stopLog := &EmergencyStopLog{
		ID:                  uuid.New().String(),
		WorkflowID:          w.ID,
		TriggerType:         TriggerManual,
		TriggeredBy:         logging.GetActor(ctx),
		Reason:              reason,
		AffectedAutomations: affected,
		RecoveryStatus:      RecoveryPending,
		CreatedAt:           now,
	}
	if err := e.repo.CreateStopLog(ctx, stopLog); err != nil {
		return nil, nil, err
	}

	metrics.IncEmergencyStop(string(TriggerManual))
	e.logger.WarnwCtx(ctx, "Emergency stop triggered",
		"reason", reason,
		"stop_log_id", stopLog.ID,
		"paused", len(affected),
	)
	e.publishStop(ctx, stopLog)
	e.publishStatus(ctx, w)
	return w, stopLog, nil
}

// HaltAll stops the whole system: every pending workflow is cancelled and
// every active automation paused. One stop log covers all of it.
func (e *Engine) HaltAll(ctx context.Context, trigger TriggerType, reason string) (*EmergencyStopLog, error) {
	if _, err := ParseTriggerType(string(trigger)); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	if reason == "" {
		return nil, pkgerrors.ErrValidation.WithMessage("emergency stop reason is required")
	}
	now := e.clock.Now().UTC()

	pending, err := e.repo.ListWorkflows(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	for i := range pending {
		w := &pending[i]
		w.TriggerEmergencyStop(reason, now)
		if err := e.repo.UpdateWorkflow(ctx, w); err != nil {
			e.logger.ErrorwCtx(logging.WithWorkflowID(ctx, w.ID), "Failed to cancel workflow during halt", "error", err)
			continue
		}
		e.publishStatus(ctx, w)
	}

	active, err := e.automations.List(ctx, automation.Filter{State: automation.StateActive})
	if err != nil {
		return nil, err
	}
	affected := make([]AffectedAutomation, 0, len(active))
	for i := range active {
		a := &active[i]
		affected = append(affected, AffectedAutomation{ID: a.ID, Name: a.Name, State: string(a.State)})
		if _, err := e.automations.Transition(ctx, automation.TransitionRequest{
			AutomationID: a.ID,
			To:           automation.StatePaused,
			Reason:       "emergency stop: " + reason,
		}); err != nil {
			e.logger.ErrorwCtx(logging.WithAutomationID(ctx, a.ID), "Failed to pause automation during halt", "error", err)
		}
	}

	stopLog := &EmergencyStopLog{
		ID:                  uuid.New().String(),
		TriggerType:         trigger,
		TriggeredBy:         logging.GetActor(ctx),
		Reason:              reason,
		AffectedAutomations: affected,
		RecoveryStatus:      RecoveryPending,
		CreatedAt:           now,
	}
	if err := e.repo.CreateStopLog(ctx, stopLog); err != nil {
		return nil, err
	}

	metrics.IncEmergencyStop(string(trigger))
	e.logger.WarnwCtx(ctx, "System-wide emergency stop",
		"trigger", trigger,
		"reason", reason,
		"cancelled_workflows", len(pending),
		"paused_automations", len(affected),
	)
	e.publishStop(ctx, stopLog)
	return stopLog, nil
}

func (e *Engine) UpdateRecovery(ctx context.Context, logID string, status RecoveryStatus, actions []string) (*EmergencyStopLog, error) {
	if _, err := ParseRecoveryStatus(string(status)); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	l, err := e.repo.GetStopLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if err := l.UpdateRecovery(status, actions, e.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateStopLog(ctx, l); err != nil {
		return nil, err
	}
	e.logger.InfowCtx(ctx, "Emergency stop recovery updated", "stop_log_id", logID, "status", status)
	return l, nil
}

func (e *Engine) GetStopLog(ctx context.Context, id string) (*EmergencyStopLog, error) {
	return e.repo.GetStopLog(ctx, id)
}

func (e *Engine) ListStopLogs(ctx context.Context, limit int) ([]EmergencyStopLog, error) {
	return e.repo.ListStopLogs(ctx, limit)
}

func (e *Engine) pauseIfActive(ctx context.Context, automationID, reason string) *AffectedAutomation {
	a, err := e.automations.Get(ctx, automationID)
	if err != nil {
		e.logger.WarnwCtx(ctx, "Could not load automation for emergency stop", "error", err)
		return nil
	}
	if a.State != automation.StateActive {
		return nil
	}
	snapshot := &AffectedAutomation{ID: a.ID, Name: a.Name, State: string(a.State)}
	if _, err := e.automations.Transition(ctx, automation.TransitionRequest{
		AutomationID: a.ID,
		To:           automation.StatePaused,
		Reason:       "emergency stop: " + reason,
	}); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to pause automation on emergency stop", "error", err)
	}
	return snapshot
}

func (e *Engine) publishStatus(ctx context.Context, w *Workflow) {
	if e.publisher == nil {
		return
	}
	env := models.NewEnvelope(models.TypeWorkflowStatus, "management-service", w.AutomationID, map[string]interface{}{
		"workflow_id":    w.ID,
		"automation_id":  w.AutomationID,
		"type":           string(w.Type),
		"status":         string(w.Status),
		"emergency_stop": w.EmergencyStop,
	})
	if err := e.publisher.Publish(ctx, e.topic, env); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to publish workflow status", "error", err)
	}
}

func (e *Engine) publishStop(ctx context.Context, l *EmergencyStopLog) {
	if e.publisher == nil {
		return
	}
	ids := make([]string, 0, len(l.AffectedAutomations))
	for _, a := range l.AffectedAutomations {
		ids = append(ids, a.ID)
	}
	env := models.NewEnvelope(models.TypeEmergencyStop, "management-service", l.ID, map[string]interface{}{
		"stop_log_id":    l.ID,
		"workflow_id":    l.WorkflowID,
		"trigger_type":   string(l.TriggerType),
		"reason":         l.Reason,
		"automation_ids": ids,
	})
	if err := e.publisher.Publish(ctx, e.topic, env); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to publish emergency stop", "error", err)
	}
}
