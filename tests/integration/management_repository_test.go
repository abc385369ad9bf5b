package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/filtering"
	"homeflow/internal/management"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
)

func TestManagementRepository_CreateAndGetFilterRule(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestFilterRule("owner-1", "hide_sensors", filtering.RuleTypeExclude, filtering.ActionBlock, 10, true)
	rule.Condition = filtering.Condition{EntityPatterns: []string{"sensor.*"}}

	require.NoError(t, repo.CreateFilterRule(ctx, rule))
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())

	got, err := repo.GetFilterRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, filtering.RuleTypeExclude, got.Type)
	assert.Equal(t, filtering.ActionBlock, got.Action)
	assert.Equal(t, []string{"sensor.*"}, got.Condition.EntityPatterns)
	assert.Empty(t, got.ConnectionID)
	assert.Zero(t, got.MatchCount)
}

func TestManagementRepository_GetFilterRule_NotFound(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)

	_, err := repo.GetFilterRule(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestManagementRepository_DuplicateNameConflicts(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.CreateFilterRule(ctx,
		createTestFilterRule("owner-1", "dup", filtering.RuleTypeInclude, filtering.ActionAllow, 1, true)))

	err := repo.CreateFilterRule(ctx,
		createTestFilterRule("owner-1", "dup", filtering.RuleTypeInclude, filtering.ActionAllow, 2, true))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	// same name under another owner is fine
	require.NoError(t, repo.CreateFilterRule(ctx,
		createTestFilterRule("owner-2", "dup", filtering.RuleTypeInclude, filtering.ActionAllow, 1, true)))
}

func TestManagementRepository_UnknownConnectionIsValidation(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)

	rule := createTestFilterRule("owner-1", "scoped", filtering.RuleTypeInclude, filtering.ActionAllow, 1, true)
	rule.ConnectionID = "no-such-connection"

	err := repo.CreateFilterRule(context.Background(), rule)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestManagementRepository_ListUpdateDelete(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	createTestConnection(t, repo, "conn-1", "owner-1")

	a := createTestFilterRule("owner-1", "a", filtering.RuleTypeInclude, filtering.ActionAllow, 5, true)
	a.ConnectionID = "conn-1"
	b := createTestFilterRule("owner-1", "b", filtering.RuleTypeExclude, filtering.ActionBlock, 1, true)
	other := createTestFilterRule("owner-2", "c", filtering.RuleTypeExclude, filtering.ActionBlock, 1, true)
	for _, r := range []*management.FilterRule{a, b, other} {
		require.NoError(t, repo.CreateFilterRule(ctx, r))
	}

	rules, err := repo.ListFilterRules(ctx, management.RuleListFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	a.Priority = 50
	a.Enabled = false
	require.NoError(t, repo.UpdateFilterRule(ctx, a))

	got, err := repo.GetFilterRule(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Priority)
	assert.False(t, got.Enabled)
	assert.Equal(t, "conn-1", got.ConnectionID)

	require.NoError(t, repo.DeleteFilterRule(ctx, b.ID))
	_, err = repo.GetFilterRule(ctx, b.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	err = repo.DeleteFilterRule(ctx, b.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestManagementRepository_Connections(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	createTestConnection(t, repo, "conn-1", "owner-1")
	createTestConnection(t, repo, "conn-2", "owner-1")
	createTestConnection(t, repo, "conn-3", "owner-2")

	conns, err := repo.ListConnections(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	err = repo.CreateConnection(ctx, &management.Connection{ID: "conn-1", OwnerID: "owner-9"})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestVersioningRepository_NumbersVersionsPerRule(t *testing.T) {
	infra := SetupTestInfra(t)

	versions := management.NewVersioningRepository(infra.PostgresDB)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := &management.RuleVersion{
			RuleID:    "rule-1",
			RuleType:  management.RuleTypeFilter,
			RuleData:  []byte(`{"name":"r"}`),
			ChangedBy: "alice",
		}
		require.NoError(t, versions.CreateVersion(ctx, v))
		assert.Equal(t, i+1, v.Version)
	}
	require.NoError(t, versions.CreateVersion(ctx, &management.RuleVersion{
		RuleID: "rule-2", RuleType: management.RuleTypeFilter, RuleData: []byte(`{}`),
	}))

	list, err := versions.GetVersions(ctx, "rule-1")
	require.NoError(t, err)
	require.Len(t, list, 3)

	v2, err := versions.GetVersion(ctx, "rule-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "alice", v2.ChangedBy)

	_, err = versions.GetVersion(ctx, "rule-1", 9)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestManagementService_RecordsVersionsAndAudit(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := management.NewRepository(infra.PostgresDB)
	versions := management.NewVersioningRepository(infra.PostgresDB)
	svc := management.NewService(repo,
		management.WithVersioning(versions),
		management.WithLogger(createTestLogger()),
	)
	ctx := logging.WithActor(context.Background(), "bob")

	rule, err := svc.CreateFilterRule(ctx, management.CreateFilterRuleRequest{
		OwnerID: "owner-1",
		Name:    "quiet_motion",
		Type:    "frequency",
		Action:  "throttle",
		Condition: filtering.Condition{
			EventTypes: []string{"motion_detected"},
		},
		FrequencyLimit:    3,
		TimeWindowMinutes: 10,
	})
	require.NoError(t, err)

	priority := 7
	_, err = svc.UpdateFilterRule(ctx, rule.ID, management.UpdateFilterRuleRequest{Priority: &priority})
	require.NoError(t, err)

	history, err := svc.GetRuleVersions(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bob", history[0].ChangedBy)

	logs, err := svc.GetAuditLogs(ctx, &rule.ID, management.RuleTypeFilter, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	require.NoError(t, svc.DeleteFilterRule(ctx, rule.ID))
	logs, err = svc.GetAuditLogs(ctx, &rule.ID, management.RuleTypeFilter, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}
