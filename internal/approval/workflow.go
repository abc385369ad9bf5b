package approval

import (
	"time"

	pkgerrors "homeflow/pkg/errors"
)

func invalidState(w *Workflow, op string) error {
	return pkgerrors.ErrInvalidWorkflowState.
		WithMessage("cannot %s workflow %s in status %s", op, w.ID, w.Status).
		WithDetail("workflow_id", w.ID).
		WithDetail("status", string(w.Status))
}

func (w *Workflow) IsTerminal() bool {
	return w.Status != StatusPending
}

func (w *Workflow) Approve(approver, notes string, now time.Time) error {
	if w.Status != StatusPending {
		return invalidState(w, "approve")
	}
	w.Status = StatusApproved
	w.ApprovedBy = approver
	w.ApprovedAt = &now
	w.Notes = notes
	w.UpdatedAt = now
	return nil
}

func (w *Workflow) Reject(rejecter, reason string, now time.Time) error {
	if w.Status != StatusPending {
		return invalidState(w, "reject")
	}
	w.Status = StatusRejected
	w.RejectedBy = rejecter
	w.RejectedAt = &now
	w.RejectionReason = reason
	w.UpdatedAt = now
	return nil
}

func (w *Workflow) Cancel(now time.Time) error {
	if w.Status != StatusPending {
		return invalidState(w, "cancel")
	}
	w.Status = StatusCancelled
	w.CancelledAt = &now
	w.UpdatedAt = now
	return nil
}

// TriggerEmergencyStop forces the workflow to CANCELLED whatever its status.
// Repeated calls overwrite the reason and timestamp.
func (w *Workflow) TriggerEmergencyStop(reason string, now time.Time) {
	if w.Status != StatusCancelled || w.CancelledAt == nil {
		w.CancelledAt = &now
	}
	w.Status = StatusCancelled
	w.EmergencyStop = true
	w.EmergencyStoppedAt = &now
	w.EmergencyReason = reason
	w.UpdatedAt = now
}

// Duration runs from the request to approval, rejection or now.
func (w *Workflow) Duration(now time.Time) time.Duration {
	switch {
	case w.ApprovedAt != nil:
		return w.ApprovedAt.Sub(w.RequestedAt)
	case w.RejectedAt != nil:
		return w.RejectedAt.Sub(w.RequestedAt)
	default:
		return now.Sub(w.RequestedAt)
	}
}

var recoveryTransitions = map[RecoveryStatus][]RecoveryStatus{
	RecoveryPending:    {RecoveryInProgress, RecoveryRecovered, RecoveryFailed},
	RecoveryInProgress: {RecoveryInProgress, RecoveryRecovered, RecoveryFailed},
	RecoveryFailed:     {RecoveryInProgress},
	RecoveryRecovered:  nil,
}

// UpdateRecovery is the only allowed mutation of a stop log.
func (l *EmergencyStopLog) UpdateRecovery(status RecoveryStatus, actions []string, now time.Time) error {
	allowed := false
	for _, s := range recoveryTransitions[l.RecoveryStatus] {
		if s == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return pkgerrors.ErrInvalidTransition.
			WithMessage("emergency stop %s cannot move from %s to %s", l.ID, l.RecoveryStatus, status).
			WithDetail("log_id", l.ID)
	}

	l.RecoveryStatus = status
	l.RecoveryActions = append(l.RecoveryActions, actions...)
	if status == RecoveryRecovered {
		l.RecoveredAt = &now
	}
	return nil
}
