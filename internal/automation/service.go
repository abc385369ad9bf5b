package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"homeflow/internal/backup"
	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/tracing"
)

// Backups is the part of the backup service used after a transaction
// commits.
type Backups interface {
	Get(ctx context.Context, id string) (*backup.Backup, error)
	Mirror(ctx context.Context, id string)
}

// Publisher is satisfied by broker.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

type Service struct {
	repo      Repository
	backups   Backups
	syncer    PlatformSyncer
	stats     *ExecutionStats
	publisher Publisher
	topic     string
	clock     clockwork.Clock
	logger    logger.Logger
}

type Option func(*Service)

func WithBackups(b Backups) Option { return func(s *Service) { s.backups = b } }

func WithPlatformSyncer(p PlatformSyncer) Option { return func(s *Service) { s.syncer = p } }

func WithExecutionStats(st *ExecutionStats) Option { return func(s *Service) { s.stats = st } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

// WithPublisher enables lifecycle events on topic.
func WithPublisher(p Publisher, topic string) Option {
	return func(s *Service) {
		s.publisher = p
		s.topic = topic
	}
}

func NewService(repo Repository, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		syncer: NoopSyncer{},
		stats:  NewExecutionStats(),
		clock:  clockwork.NewRealClock(),
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Stats() *ExecutionStats {
	return s.stats
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Automation, error) {
	if req.Name == "" {
		return nil, pkgerrors.ErrValidation.WithMessage("automation name is required")
	}
	if len(req.Configuration) > 0 && !json.Valid(req.Configuration) {
		return nil, pkgerrors.ErrValidation.WithMessage("automation configuration must be valid JSON")
	}

	now := s.clock.Now().UTC()
	actor := logging.GetActor(ctx)
	a := &Automation{
		ID:                   uuid.New().String(),
		PlatformAutomationID: req.PlatformAutomationID,
		Name:                 req.Name,
		Description:          req.Description,
		State:                StateDraft,
		ExecutionState:       ExecInactive,
		Version:              1,
		CreatedBy:            actor,
		ModifiedBy:           actor,
		Configuration:        configurationOrEmpty(req.Configuration),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.InfowCtx(logging.WithAutomationID(ctx, a.ID), "Automation created", "name", a.Name)
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Automation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Automation, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) History(ctx context.Context, id string, limit int) ([]HistoryRecord, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id, limit)
}

// change describes one atomic mutation: a backup of the current state, the
// mutation itself and a history entry.
type change struct {
	kind       HistoryKind
	backupType backup.Type
	reason     string
	mutate     func(a *Automation, now time.Time) (from, to string, err error)
}

// apply runs c inside one transaction and returns the automation before and
// after. Nothing is written when mutate fails.
func (s *Service) apply(ctx context.Context, id string, c change) (before, after *Automation, backupID string, err error) {
	ctx, span := tracing.StartAutomationSpan(ctx, "automation."+string(c.kind), id)
	defer func() {
		tracing.Fail(span, err)
		span.End()
	}()
	now := s.clock.Now().UTC()

	err = s.repo.WithinTx(ctx, func(tx Tx) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev := *a
		before = &prev

		snapshot, err := json.Marshal(a.Snapshot())
		if err != nil {
			return fmt.Errorf("failed to snapshot automation: %w", err)
		}

		from, to, err := c.mutate(a, now)
		if err != nil {
			return err
		}

		backupID, err = tx.CreateBackup(ctx, a.ID, c.backupType, snapshot, map[string]interface{}{
			"kind":    string(c.kind),
			"from":    from,
			"to":      to,
			"reason":  c.reason,
			"version": prev.Version,
		})
		if err != nil {
			return err
		}

		if err := tx.Update(ctx, a, prev.Version); err != nil {
			return err
		}

		if err := tx.AppendHistory(ctx, &HistoryRecord{
			AutomationID: a.ID,
			Kind:         c.kind,
			FromState:    from,
			ToState:      to,
			Reason:       c.reason,
			Version:      a.Version,
			BackupID:     backupID,
			ChangedBy:    a.ModifiedBy,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		after = a
		return nil
	})
	if err != nil {
		return nil, nil, "", err
	}

	if s.backups != nil {
		s.backups.Mirror(ctx, backupID)
	}
	return before, after, backupID, nil
}

// Transition moves an automation through the management lifecycle.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Automation, error) {
	to, err := ParseState(string(req.To))
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	ctx = logging.WithAutomationID(ctx, req.AutomationID)
	actor := logging.GetActor(ctx)

	before, after, backupID, err := s.apply(ctx, req.AutomationID, change{
		kind:       HistoryLifecycle,
		backupType: backup.TypeBeforeTransition,
		reason:     req.Reason,
		mutate: func(a *Automation, now time.Time) (string, string, error) {
			from := string(a.State)
			return from, string(to), a.applyTransition(to, req.Reason, actor, now)
		},
	})
	if err != nil {
		if pkgerrors.IsInvalidTransition(err) {
			metrics.IncLifecycleTransition("", string(to), "rejected")
		}
		return nil, err
	}

	metrics.IncLifecycleTransition(string(before.State), string(after.State), "success")
	s.logger.InfowCtx(ctx, "Automation transitioned",
		"from", before.State,
		"to", after.State,
		"version", after.Version,
		"backup_id", backupID,
	)

	s.syncPlatform(ctx, after)
	if after.State == StateRetired {
		s.stats.Forget(after.ID)
	}
	s.publish(ctx, after, string(before.State), string(after.State), req.Reason, actor)
	return after, nil
}

// TransitionExecution moves an automation through the execution-side
// machine.
func (s *Service) TransitionExecution(ctx context.Context, req ExecutionTransitionRequest) (*Automation, error) {
	to, err := ParseExecutionState(string(req.To))
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%v", err)
	}
	ctx = logging.WithAutomationID(ctx, req.AutomationID)
	actor := logging.GetActor(ctx)

	before, after, _, err := s.apply(ctx, req.AutomationID, change{
		kind:       HistoryExecution,
		backupType: backup.TypeBeforeTransition,
		reason:     req.Reason,
		mutate: func(a *Automation, now time.Time) (string, string, error) {
			from := string(a.ExecutionState)
			return from, string(to), a.applyExecutionTransition(to, req.Reason, actor, now)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Automation execution state changed",
		"from", before.ExecutionState,
		"to", after.ExecutionState,
		"version", after.Version,
	)
	s.syncExecution(ctx, after)
	if after.ExecutionState == ExecRetired {
		s.stats.Forget(after.ID)
	}
	s.publish(ctx, after, string(before.ExecutionState), string(after.ExecutionState), req.Reason, actor)
	return after, nil
}

// UpdateConfiguration replaces the configuration after taking a
// before-modification backup.
func (s *Service) UpdateConfiguration(ctx context.Context, id string, configuration json.RawMessage, reason string) (*Automation, error) {
	if len(configuration) == 0 || !json.Valid(configuration) {
		return nil, pkgerrors.ErrValidation.WithMessage("automation configuration must be valid JSON")
	}
	ctx = logging.WithAutomationID(ctx, id)
	actor := logging.GetActor(ctx)

	_, after, backupID, err := s.apply(ctx, id, change{
		kind:       HistoryModification,
		backupType: backup.TypeBeforeModification,
		reason:     reason,
		mutate: func(a *Automation, now time.Time) (string, string, error) {
			if err := a.modifiable(); err != nil {
				return "", "", err
			}
			a.Configuration = configuration
			a.touch(actor, now)
			return string(a.State), string(a.State), nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Automation configuration updated", "version", after.Version, "backup_id", backupID)
	return after, nil
}

// Rollback restores the configuration held by backupID. The lifecycle state
// is not rolled back.
func (s *Service) Rollback(ctx context.Context, id, backupID string) (*Automation, error) {
	if s.backups == nil {
		return nil, pkgerrors.ErrInternal.WithMessage("backups are not configured")
	}
	b, err := s.backups.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if b.AutomationID != id {
		return nil, pkgerrors.ErrValidation.WithMessage("backup %s does not belong to automation %s", backupID, id)
	}

	var snap Snapshot
	if err := json.Unmarshal(b.Payload, &snap); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("backup %s has an unreadable payload", backupID)
	}

	ctx = logging.WithAutomationID(ctx, id)
	actor := logging.GetActor(ctx)

	_, after, _, err := s.apply(ctx, id, change{
		kind:       HistoryRollback,
		backupType: backup.TypeBeforeModification,
		reason:     "rollback to backup " + backupID,
		mutate: func(a *Automation, now time.Time) (string, string, error) {
			if err := a.modifiable(); err != nil {
				return "", "", err
			}
			a.Configuration = configurationOrEmpty(snap.Configuration)
			a.touch(actor, now)
			return string(a.State), string(a.State), nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Automation rolled back", "backup_id", backupID, "version", after.Version)
	return after, nil
}

// RecordExecution counts one run of the automation and persists the derived
// metrics.
func (s *Service) RecordExecution(ctx context.Context, id string, success bool, latency time.Duration) (StatsSnapshot, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return StatsSnapshot{}, err
	}
	if a.State == StateRetired {
		return StatsSnapshot{}, pkgerrors.ErrInvalidTransition.WithMessage("automation %s is retired", id)
	}
	if latency < 0 {
		return StatsSnapshot{}, pkgerrors.ErrValidation.WithMessage("latency must not be negative")
	}

	now := s.clock.Now().UTC()
	snap := s.stats.Record(id, success, latency, now)

	m := Metrics{
		ExecutionCount:  snap.Executions,
		SuccessRate:     snap.SuccessRate(),
		AvgLatencyMs:    snap.AvgResponseMs,
		LastExecutionAt: &now,
	}
	if err := s.repo.UpdateMetrics(ctx, id, m); err != nil {
		s.logger.WarnwCtx(logging.WithAutomationID(ctx, id), "Failed to persist automation metrics", "error", err)
	}
	return snap, nil
}

func (s *Service) syncPlatform(ctx context.Context, a *Automation) {
	var err error
	switch a.State {
	case StateActive:
		err = s.syncer.Activate(ctx, a)
	case StatePaused:
		err = s.syncer.Deactivate(ctx, a)
	case StateRetired:
		err = s.syncer.Remove(ctx, a)
	default:
		return
	}
	if err != nil {
		s.logger.WarnwCtx(ctx, "Platform sync failed", "state", a.State, "error", err)
	}
}

func (s *Service) syncExecution(ctx context.Context, a *Automation) {
	var err error
	switch a.ExecutionState {
	case ExecActive:
		err = s.syncer.Activate(ctx, a)
	case ExecInactive:
		err = s.syncer.Deactivate(ctx, a)
	case ExecRetired:
		err = s.syncer.Remove(ctx, a)
	default:
		return
	}
	if err != nil {
		s.logger.WarnwCtx(ctx, "Platform sync failed", "execution_state", a.ExecutionState, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, a *Automation, from, to, reason, actor string) {
	if s.publisher == nil {
		return
	}
	env := models.NewEnvelope(models.TypeLifecycleTransition, "management-service", a.ID, map[string]interface{}{
		"automation_id":   a.ID,
		"from":            from,
		"to":              to,
		"state":           string(a.State),
		"execution_state": string(a.ExecutionState),
		"version":         a.Version,
		"reason":          reason,
		"changed_by":      actor,
	})
	if err := s.publisher.Publish(ctx, s.topic, env); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish lifecycle event", "error", err)
	}
}
