package suggestion

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"homeflow/internal/approval"
	"homeflow/internal/automation"
	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
)

// Approvals is the slice of the approval engine suggestions are routed to.
type Approvals interface {
	RequiresApproval(confidence float64) bool
	RequestChange(ctx context.Context, req approval.ChangeRequest) (*approval.RequestResult, error)
}

type Automations interface {
	Get(ctx context.Context, id string) (*automation.Automation, error)
}

// Publisher is satisfied by broker.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

type Service struct {
	repo        Repository
	generator   Generator
	estimator   ImpactEstimator
	automations Automations
	stats       *automation.ExecutionStats
	approvals   Approvals
	publisher   Publisher
	topic       string
	clock       clockwork.Clock
	logger      logger.Logger
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithEstimator(e ImpactEstimator) Option { return func(s *Service) { s.estimator = e } }

func WithApprovals(a Approvals) Option { return func(s *Service) { s.approvals = a } }

func WithPublisher(p Publisher, topic string) Option {
	return func(s *Service) {
		s.publisher = p
		s.topic = topic
	}
}

func NewService(repo Repository, generator Generator, automations Automations, stats *automation.ExecutionStats, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		generator:   generator,
		estimator:   NewMetricsEstimator(0),
		automations: automations,
		stats:       stats,
		clock:       clockwork.NewRealClock(),
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate asks the generator for a suggestion on one automation and stores
// it. Significant suggestions carrying a configuration are sent to the
// approval engine as a modification request.
func (s *Service) Generate(ctx context.Context, automationID string, req GenerateRequest) (*Suggestion, error) {
	if s.generator == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithMessage("suggestion generation is disabled")
	}
	a, err := s.automations.Get(ctx, automationID)
	if err != nil {
		return nil, err
	}
	if a.State == automation.StateRetired {
		return nil, pkgerrors.ErrValidation.WithMessage("automation %s is retired", automationID)
	}
	ctx = logging.WithAutomationID(ctx, automationID)

	stats, _ := s.stats.Get(automationID)
	gen, err := s.generator.Generate(ctx, GenerationContext{
		AutomationID:  a.ID,
		Name:          a.Name,
		State:         string(a.State),
		Configuration: a.Configuration,
		Stats:         stats,
		UserPatterns:  req.UserPatterns,
		Preferences:   req.Preferences,
	})
	if err != nil {
		metrics.IncSuggestion("generation_failed")
		return nil, err
	}

	suggestionType, err := ParseType(gen.Type)
	if err != nil {
		return nil, pkgerrors.ErrGenerationFailed.WithCause(err).WithMessage("generator returned %v", err)
	}
	est := s.estimator.Estimate(stats, gen)

	now := s.clock.Now().UTC()
	sg := &Suggestion{
		ID:                     uuid.New().String(),
		AutomationID:           a.ID,
		Type:                   suggestionType,
		Title:                  gen.Title,
		Description:            gen.Description,
		CurrentValue:           gen.CurrentValue,
		SuggestedValue:         gen.SuggestedValue,
		SuggestedConfiguration: gen.Configuration,
		ExpectedImpact:         est.Impact,
		ConfidenceScore:        est.Confidence,
		Status:                 StatusPending,
		Generator:              s.generator.Name(),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Create(ctx, sg); err != nil {
		return nil, err
	}
	metrics.IncSuggestion(string(StatusPending))
	s.logger.InfowCtx(ctx, "Suggestion generated",
		"suggestion_id", sg.ID,
		"type", sg.Type,
		"impact", sg.ExpectedImpact,
		"confidence", sg.ConfidenceScore,
	)

	s.route(ctx, sg)
	return sg, nil
}

func (s *Service) route(ctx context.Context, sg *Suggestion) {
	if s.approvals == nil || len(sg.SuggestedConfiguration) == 0 || !s.approvals.RequiresApproval(sg.ConfidenceScore) {
		return
	}

	res, err := s.approvals.RequestChange(ctx, approval.ChangeRequest{
		AutomationID:    sg.AutomationID,
		Type:            approval.TypeModification,
		ConfidenceScore: sg.ConfidenceScore,
		Change: approval.Change{
			Configuration: sg.SuggestedConfiguration,
			Reason:        sg.Title,
			SuggestionID:  sg.ID,
		},
		Notes: sg.Description,
	})
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to open approval workflow for suggestion", "suggestion_id", sg.ID, "error", err)
		return
	}
	if res.Workflow == nil {
		return
	}

	sg.WorkflowID = res.Workflow.ID
	sg.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, sg); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to link suggestion to workflow", "suggestion_id", sg.ID, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Suggestion, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Suggestion, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Approve(ctx context.Context, id, notes string) (*Suggestion, error) {
	return s.review(ctx, id, func(sg *Suggestion, reviewer string) error {
		return sg.Approve(reviewer, notes, s.clock.Now().UTC())
	})
}

func (s *Service) Reject(ctx context.Context, id, notes string) (*Suggestion, error) {
	return s.review(ctx, id, func(sg *Suggestion, reviewer string) error {
		return sg.Reject(reviewer, notes, s.clock.Now().UTC())
	})
}

func (s *Service) MarkImplemented(ctx context.Context, id, notes string) (*Suggestion, error) {
	return s.review(ctx, id, func(sg *Suggestion, reviewer string) error {
		return sg.MarkImplemented(reviewer, notes, s.clock.Now().UTC())
	})
}

func (s *Service) review(ctx context.Context, id string, op func(sg *Suggestion, reviewer string) error) (*Suggestion, error) {
	sg, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := op(sg, logging.GetActor(ctx)); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sg); err != nil {
		return nil, err
	}

	metrics.IncSuggestion(string(sg.Status))
	ctx = logging.WithAutomationID(ctx, sg.AutomationID)
	s.logger.InfowCtx(ctx, "Suggestion reviewed", "suggestion_id", sg.ID, "status", sg.Status, "reviewed_by", sg.ReviewedBy)

	if s.publisher != nil {
		env := models.NewEnvelope(models.TypeSuggestionReviewed, "management-service", sg.AutomationID, map[string]interface{}{
			"suggestion_id": sg.ID,
			"automation_id": sg.AutomationID,
			"status":        string(sg.Status),
			"reviewed_by":   sg.ReviewedBy,
		})
		if err := s.publisher.Publish(ctx, s.topic, env); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to publish suggestion review", "error", err)
		}
	}
	return sg, nil
}
