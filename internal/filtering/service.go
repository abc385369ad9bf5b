package filtering

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"homeflow/internal/config"
	"homeflow/internal/logger"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/tracing"
)

type ruleSet struct {
	byOwner map[string][]Rule
	ownerOf map[string]string
	total   int
}

func buildRuleSet(rules []Rule, owners map[string]string) ruleSet {
	set := ruleSet{
		byOwner: make(map[string][]Rule),
		ownerOf: owners,
	}
	if set.ownerOf == nil {
		set.ownerOf = make(map[string]string)
	}
	for _, r := range rules {
		set.byOwner[r.OwnerID] = append(set.byOwner[r.OwnerID], r)
		set.total++
	}
	for owner := range set.byOwner {
		SortRules(set.byOwner[owner])
	}
	return set
}

// Service holds the cached rule sets and decides events against them.
type Service struct {
	repo      Repository
	evaluator *Evaluator
	cfg       config.FilteringConfig
	logger    logger.Logger

	rulesMu sync.RWMutex
	rules   ruleSet
}

func NewService(repo Repository, evaluator *Evaluator, cfg config.FilteringConfig, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log,
		rules:     buildRuleSet(nil, nil),
	}
}

// Decide evaluates evt against the rules of the connection's owner.
func (s *Service) Decide(ctx context.Context, evt models.Event) Decision {
	ctx, span := tracing.Start(ctx, "filtering.decide")
	defer span.End()

	return s.evaluator.Evaluate(ctx, evt, s.RulesFor(evt.ConnectionID))
}

// RulesFor returns the ordered enabled rules that apply to a connection.
func (s *Service) RulesFor(connectionID string) []Rule {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()

	owner, ok := s.rules.ownerOf[connectionID]
	if !ok {
		return nil
	}

	owned := s.rules.byOwner[owner]
	rules := make([]Rule, 0, len(owned))
	for _, r := range owned {
		if r.appliesTo(connectionID) {
			rules = append(rules, r)
		}
	}
	return rules
}

// SetRules replaces the cache directly.
func (s *Service) SetRules(rules []Rule, owners map[string]string) {
	set := buildRuleSet(rules, owners)
	s.rulesMu.Lock()
	s.rules = set
	s.rulesMu.Unlock()
	metrics.SetFilterActiveRules(set.total)
	s.evaluator.cel.Forget()
}

func (s *Service) ReloadRules(ctx context.Context) error {
	return s.reload(ctx, false)
}

func (s *Service) reload(ctx context.Context, skipJitter bool) error {
	if err := s.applyJitter(ctx, skipJitter); err != nil {
		return err
	}

	s.logger.DebugwCtx(ctx, "Loading rules from database")
	rules, err := s.repo.GetActiveRules(ctx)
	if err != nil {
		return err
	}
	owners, err := s.repo.GetConnectionOwners(ctx)
	if err != nil {
		return err
	}

	s.SetRules(rules, owners)
	s.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(rules),
		"connections", len(owners),
	)
	return nil
}

func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReloader loads rules immediately and then on every reload interval.
func (s *Service) StartReloader(ctx context.Context) error {
	if err := s.reload(ctx, true); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload rules", "error", err)
	}

	interval := time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.reload(ctx, false); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StartMatchFlusher persists accumulated match counters on an interval and
// once more on shutdown.
func (s *Service) StartMatchFlusher(ctx context.Context) error {
	interval := s.cfg.MatchFlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushMatches(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flushMatches(flushCtx)
			cancel()
			return ctx.Err()
		}
	}
}

func (s *Service) flushMatches(ctx context.Context) {
	if err := s.evaluator.Matches().Flush(ctx, s.repo); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to flush rule match counters", "error", err)
	}
}
