package filtering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
	"homeflow/internal/logger"
)

type fakeRepository struct {
	rules  []Rule
	owners map[string]string
	err    error
	sink   *recordingSink
}

func (r *fakeRepository) GetActiveRules(context.Context) ([]Rule, error) {
	return r.rules, r.err
}

func (r *fakeRepository) GetConnectionOwners(context.Context) (map[string]string, error) {
	return r.owners, r.err
}

func (r *fakeRepository) IncrementMatches(ctx context.Context, ruleID string, delta int64, at time.Time) error {
	return r.sink.IncrementMatches(ctx, ruleID, delta, at)
}

func newTestService(t *testing.T, repo *fakeRepository) *Service {
	t.Helper()
	e, _ := newTestEvaluator(t)
	return NewService(repo, e, config.FilteringConfig{}, logger.NopLogger())
}

func TestService_ReloadAndScope(t *testing.T) {
	repo := &fakeRepository{
		rules: []Rule{
			{ID: "o1-late", OwnerID: "owner-1", Type: RuleTypeInclude, Action: ActionAllow, Priority: 50, Enabled: true},
			{ID: "o1-early", OwnerID: "owner-1", Type: RuleTypeInclude, Action: ActionLogOnly, Priority: 5, Enabled: true, ConnectionID: "conn-b"},
			{ID: "o2", OwnerID: "owner-2", Type: RuleTypeInclude, Action: ActionBlock, Priority: 1, Enabled: true},
		},
		owners: map[string]string{"conn-a": "owner-1", "conn-b": "owner-1", "conn-c": "owner-2"},
		sink:   newRecordingSink(),
	}
	svc := newTestService(t, repo)
	require.NoError(t, svc.ReloadRules(context.Background()))

	assert.Len(t, svc.RulesFor("conn-a"), 1)
	b := svc.RulesFor("conn-b")
	require.Len(t, b, 2)
	assert.Equal(t, "o1-early", b[0].ID)
	assert.Empty(t, svc.RulesFor("unknown"))

	evt := stateEvent("light.a", "off", "on")
	evt.ConnectionID = "conn-b"
	assert.Equal(t, ActionLogOnly, svc.Decide(context.Background(), evt).Action)

	evt.ConnectionID = "conn-c"
	d := svc.Decide(context.Background(), evt)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, "o2", d.RuleID)
}

func TestService_ReloadErrorKeepsRules(t *testing.T) {
	repo := &fakeRepository{
		rules:  []Rule{{ID: "r", OwnerID: "o", Type: RuleTypeInclude, Action: ActionAllow, Enabled: true}},
		owners: map[string]string{"c": "o"},
		sink:   newRecordingSink(),
	}
	svc := newTestService(t, repo)
	require.NoError(t, svc.ReloadRules(context.Background()))

	repo.err = errors.New("connection refused")
	assert.Error(t, svc.ReloadRules(context.Background()))
	assert.Len(t, svc.RulesFor("c"), 1)
}

func TestService_FlushMatches(t *testing.T) {
	repo := &fakeRepository{
		rules:  []Rule{{ID: "r", OwnerID: "o", Type: RuleTypeInclude, Action: ActionAllow, Enabled: true}},
		owners: map[string]string{"conn-1": "o"},
		sink:   newRecordingSink(),
	}
	svc := newTestService(t, repo)
	svc.SetRules(repo.rules, repo.owners)

	for i := 0; i < 3; i++ {
		svc.Decide(context.Background(), stateEvent("light.a", "off", "on"))
	}
	svc.flushMatches(context.Background())
	assert.Equal(t, int64(3), repo.sink.deltas["r"])
}

func TestService_StartMatchFlusherFlushesOnShutdown(t *testing.T) {
	repo := &fakeRepository{sink: newRecordingSink()}
	svc := newTestService(t, repo)
	svc.cfg.MatchFlushInterval = time.Hour
	svc.evaluator.Matches().Record("r", baseTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.StartMatchFlusher(ctx) }()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int64(1), repo.sink.deltas["r"])
}
