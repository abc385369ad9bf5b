package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/suggestion"
	pkgerrors "homeflow/pkg/errors"
)

func newTestSuggestion(automationID string, confidence float64, now time.Time) *suggestion.Suggestion {
	return &suggestion.Suggestion{
		ID:              uuid.New().String(),
		AutomationID:    automationID,
		Type:            suggestion.TypeEfficiency,
		Title:           "Dim lights earlier",
		Description:     "Lights stay on at full brightness after sunset",
		ExpectedImpact:  suggestion.ImpactMedium,
		ConfidenceScore: confidence,
		Status:          suggestion.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSuggestionRepository_CreateAndReview(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := suggestion.NewRepository(infra.PostgresDB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := newTestSuggestion("auto-1", 0.85, now)
	s.Generator = "primary"
	s.SuggestedConfiguration = json.RawMessage(`{"brightness":30}`)
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusPending, got.Status)
	assert.Equal(t, "primary", got.Generator)
	assert.JSONEq(t, `{"brightness":30}`, string(got.SuggestedConfiguration))
	assert.Empty(t, got.WorkflowID)
	assert.Nil(t, got.ReviewedAt)
	assert.True(t, got.IsHighConfidence())

	require.NoError(t, got.MarkImplemented("dave", "done by hand", now.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusImplemented, got.Status)
	assert.Equal(t, "dave", got.ReviewedBy)
	assert.NotNil(t, got.ImplementedAt)

	assert.True(t, pkgerrors.IsInvalidTransition(got.Reject("dave", "", now)))
}

func TestSuggestionRepository_Missing(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := suggestion.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))

	err = repo.Update(ctx, newTestSuggestion("auto-1", 0.5, time.Now()))
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSuggestionRepository_ListOrdersByConfidence(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := suggestion.NewRepository(infra.PostgresDB)
	ctx := context.Background()
	now := time.Now().UTC()

	low := newTestSuggestion("auto-1", 0.3, now)
	high := newTestSuggestion("auto-1", 0.9, now)
	other := newTestSuggestion("auto-2", 0.99, now)
	for _, s := range []*suggestion.Suggestion{low, high, other} {
		require.NoError(t, repo.Create(ctx, s))
	}

	require.NoError(t, low.Reject("erin", "not useful", now))
	require.NoError(t, repo.Update(ctx, low))

	list, err := repo.List(ctx, suggestion.Filter{AutomationID: "auto-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)
	assert.Equal(t, low.ID, list[1].ID)

	pending, err := repo.List(ctx, suggestion.Filter{Status: suggestion.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, other.ID, pending[0].ID)

	paged, err := repo.List(ctx, suggestion.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, high.ID, paged[0].ID)
}
