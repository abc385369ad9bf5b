package management

import (
	"context"
	"encoding/json"
	"errors"

	"homeflow/internal/constants"
	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
	"homeflow/pkg/models"
)

type service struct {
	repo                Repository
	versioningRepo      VersioningRepository
	configEventProducer *ConfigEventProducer
	logger              logger.Logger
}

type ServiceOption func(*service)

func WithVersioning(versioningRepo VersioningRepository) ServiceOption {
	return func(s *service) {
		s.versioningRepo = versioningRepo
	}
}

func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &service{
		repo:   repo,
		logger: logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateFilterRule(ctx context.Context, req CreateFilterRuleRequest) (*FilterRule, error) {
	rule := ruleFromRequest(req)
	if err := ValidateRule(rule); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%s", err.Error())
	}

	if err := s.repo.CreateFilterRule(ctx, rule); err != nil {
		return nil, wrapInternal(err)
	}

	s.recordChange(ctx, rule, models.ActionCreate, nil)
	s.publishConfigEvent(ctx, models.ActionCreate, rule)

	return rule, nil
}

func (s *service) ListFilterRules(ctx context.Context, f RuleListFilter) ([]FilterRule, error) {
	rules, err := s.repo.ListFilterRules(ctx, f)
	if err != nil {
		return nil, wrapInternal(err)
	}
	if rules == nil {
		rules = []FilterRule{}
	}
	return rules, nil
}

func (s *service) GetFilterRule(ctx context.Context, id string) (*FilterRule, error) {
	rule, err := s.repo.GetFilterRule(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return rule, nil
}

func (s *service) UpdateFilterRule(ctx context.Context, id string, req UpdateFilterRuleRequest) (*FilterRule, error) {
	rule, err := s.repo.GetFilterRule(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}

	oldValue := ruleToMap(rule)
	applyUpdate(rule, req)
	if err := ValidateRule(rule); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("%s", err.Error())
	}

	if err := s.repo.UpdateFilterRule(ctx, rule); err != nil {
		return nil, wrapInternal(err)
	}

	s.recordChange(ctx, rule, models.ActionUpdate, oldValue)
	s.publishConfigEvent(ctx, models.ActionUpdate, rule)

	return rule, nil
}

func (s *service) DeleteFilterRule(ctx context.Context, id string) error {
	rule, err := s.repo.GetFilterRule(ctx, id)
	if err != nil {
		return wrapInternal(err)
	}

	if err := s.repo.DeleteFilterRule(ctx, id); err != nil {
		return wrapInternal(err)
	}

	if s.versioningRepo != nil {
		audit := buildAuditLog(id, models.ActionDelete, ruleToMap(rule), nil, logging.GetActor(ctx))
		if err := s.versioningRepo.CreateAuditLog(ctx, audit); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to write audit log", "rule_id", id, "error", err)
		}
	}

	s.publishConfigEvent(ctx, models.ActionDelete, rule)
	return nil
}

func (s *service) GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithMessage("versioning not enabled")
	}
	versions, err := s.versioningRepo.GetVersions(ctx, ruleID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	if versions == nil {
		versions = []RuleVersion{}
	}
	return versions, nil
}

func (s *service) GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithMessage("audit logging not enabled")
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	logs, err := s.versioningRepo.GetAuditLogs(ctx, ruleID, ruleType, limit)
	if err != nil {
		return nil, wrapInternal(err)
	}
	if logs == nil {
		logs = []AuditLog{}
	}
	return logs, nil
}

func (s *service) CreateConnection(ctx context.Context, req CreateConnectionRequest) (*Connection, error) {
	if req.OwnerID == "" {
		return nil, pkgerrors.ErrValidation.WithMessage("owner_id is required")
	}
	conn := &Connection{ID: req.ID, OwnerID: req.OwnerID, Name: req.Name}
	if err := s.repo.CreateConnection(ctx, conn); err != nil {
		return nil, wrapInternal(err)
	}

	// A new connection changes which rules apply to its events.
	s.publishConfigEvent(ctx, models.ActionReload, &FilterRule{OwnerID: conn.OwnerID})
	return conn, nil
}

func (s *service) ListConnections(ctx context.Context, ownerID string) ([]Connection, error) {
	conns, err := s.repo.ListConnections(ctx, ownerID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	if conns == nil {
		conns = []Connection{}
	}
	return conns, nil
}

// wrapInternal keeps classified errors and marks the rest as internal.
func wrapInternal(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func (s *service) recordChange(ctx context.Context, rule *FilterRule, action string, oldValue map[string]interface{}) {
	if s.versioningRepo == nil {
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return
	}

	changedBy := logging.GetActor(ctx)
	version := &RuleVersion{
		RuleID:    rule.ID,
		RuleType:  RuleTypeFilter,
		RuleData:  data,
		ChangedBy: changedBy,
	}
	if err := s.versioningRepo.CreateVersion(ctx, version); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write rule version", "rule_id", rule.ID, "error", err)
		return
	}

	audit := buildAuditLog(rule.ID, action, oldValue, ruleToMap(rule), changedBy)
	if err := s.versioningRepo.CreateAuditLog(ctx, audit); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log", "rule_id", rule.ID, "error", err)
	}
}

func buildAuditLog(ruleID, action string, oldValue, newValue map[string]interface{}, changedBy string) *AuditLog {
	return &AuditLog{
		RuleID:    &ruleID,
		RuleType:  RuleTypeFilter,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: changedBy,
	}
}

func ruleToMap(rule *FilterRule) map[string]interface{} {
	data, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func (s *service) publishConfigEvent(ctx context.Context, action string, rule *FilterRule) {
	if err := s.configEventProducer.PublishFilterRuleEvent(ctx, action, rule.OwnerID, rule.ID, logging.GetActor(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config update event",
			"action", action,
			"rule_id", rule.ID,
			"error", err,
		)
	}
}
