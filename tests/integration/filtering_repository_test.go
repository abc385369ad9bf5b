package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/filtering"
	"homeflow/internal/management"
)

func TestFilteringRepository_GetActiveRules(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	mgmtRepo := management.NewRepository(infra.PostgresDB)

	rules := []*management.FilterRule{
		createTestFilterRule("owner-1", "late", filtering.RuleTypeInclude, filtering.ActionAllow, 20, true),
		createTestFilterRule("owner-1", "early", filtering.RuleTypeExclude, filtering.ActionBlock, 10, true),
		createTestFilterRule("owner-1", "off", filtering.RuleTypeExclude, filtering.ActionBlock, 5, false),
	}
	for _, rule := range rules {
		require.NoError(t, mgmtRepo.CreateFilterRule(ctx, rule))
		time.Sleep(timestampDelay)
	}

	active, err := filtering.NewRepository(infra.PostgresDB).GetActiveRules(ctx)
	require.NoError(t, err)

	require.Len(t, active, 2)
	assert.Equal(t, "early", active[0].Name)
	assert.Equal(t, "late", active[1].Name)
}

func TestFilteringRepository_GetActiveRules_Empty(t *testing.T) {
	infra := SetupTestInfra(t)

	active, err := filtering.NewRepository(infra.PostgresDB).GetActiveRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestFilteringRepository_ConnectionOwners(t *testing.T) {
	infra := SetupTestInfra(t)

	mgmtRepo := management.NewRepository(infra.PostgresDB)
	createTestConnection(t, mgmtRepo, "conn-1", "owner-1")
	createTestConnection(t, mgmtRepo, "conn-2", "owner-2")

	owners, err := filtering.NewRepository(infra.PostgresDB).GetConnectionOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"conn-1": "owner-1", "conn-2": "owner-2"}, owners)
}

func TestFilteringRepository_IncrementMatchesKeepsLatest(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	mgmtRepo := management.NewRepository(infra.PostgresDB)
	rule := createTestFilterRule("owner-1", "counted", filtering.RuleTypeInclude, filtering.ActionAllow, 1, true)
	require.NoError(t, mgmtRepo.CreateFilterRule(ctx, rule))

	repo := filtering.NewRepository(infra.PostgresDB)
	later := time.Now().UTC().Truncate(time.Second)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.IncrementMatches(ctx, rule.ID, 3, later))
	require.NoError(t, repo.IncrementMatches(ctx, rule.ID, 2, earlier))

	got, err := mgmtRepo.GetFilterRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.MatchCount)
	require.NotNil(t, got.LastMatchedAt)
	assert.True(t, got.LastMatchedAt.Equal(later))
}

func TestFilteringService_ReloadScopesRulesByOwner(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	mgmtRepo := management.NewRepository(infra.PostgresDB)
	createTestConnection(t, mgmtRepo, "conn-1", "owner-1")
	createTestConnection(t, mgmtRepo, "conn-2", "owner-2")

	block := createTestFilterRule("owner-1", "block_motion", filtering.RuleTypeExclude, filtering.ActionBlock, 1, true)
	block.Condition = filtering.Condition{EventTypes: []string{"motion_detected"}}
	require.NoError(t, mgmtRepo.CreateFilterRule(ctx, block))

	evaluator, err := filtering.NewEvaluator(createTestLogger())
	require.NoError(t, err)
	svc := filtering.NewService(filtering.NewRepository(infra.PostgresDB), evaluator, createTestFilteringConfig(), createTestLogger())
	require.NoError(t, svc.ReloadRules(ctx))

	decision := svc.Decide(ctx, createTestEvent("e1", "conn-1", "motion_detected", "binary_sensor.hall"))
	assert.Equal(t, filtering.ActionBlock, decision.Action)
	assert.Equal(t, block.ID, decision.RuleID)

	decision = svc.Decide(ctx, createTestEvent("e2", "conn-2", "motion_detected", "binary_sensor.hall"))
	assert.False(t, decision.Matched())
}
