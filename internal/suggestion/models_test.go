package suggestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/automation"
	pkgerrors "homeflow/pkg/errors"
)

var t0 = time.Date(2026, 7, 14, 18, 0, 0, 0, time.UTC)

func TestSuggestion_ConfidenceBands(t *testing.T) {
	tests := []struct {
		score     float64
		high, low bool
	}{
		{0.95, true, false},
		{0.80, true, false},
		{0.79, false, false},
		{0.50, false, false},
		{0.49, false, true},
		{0, false, true},
	}
	for _, tt := range tests {
		s := Suggestion{ConfidenceScore: tt.score}
		assert.Equal(t, tt.high, s.IsHighConfidence(), "high %v", tt.score)
		assert.Equal(t, tt.low, s.IsLowConfidence(), "low %v", tt.score)
	}
}

func TestSuggestion_Review(t *testing.T) {
	s := &Suggestion{ID: "s1", Status: StatusPending}
	require.NoError(t, s.Approve("alice", "worth trying", t0))
	assert.Equal(t, StatusApproved, s.Status)
	assert.Equal(t, "alice", s.ReviewedBy)
	assert.Equal(t, "worth trying", s.ReviewNotes)

	assert.True(t, pkgerrors.IsInvalidTransition(s.Reject("bob", "", t0)))
	assert.True(t, pkgerrors.IsInvalidTransition(s.Approve("bob", "", t0)))

	require.NoError(t, s.MarkImplemented("carol", "deployed", t0.Add(time.Hour)))
	assert.Equal(t, StatusImplemented, s.Status)
	require.NotNil(t, s.ImplementedAt)
	assert.Equal(t, t0.Add(time.Hour), *s.ImplementedAt)
	assert.True(t, pkgerrors.IsInvalidTransition(s.MarkImplemented("carol", "", t0)))
}

func TestSuggestion_MarkImplementedFromPending(t *testing.T) {
	s := &Suggestion{ID: "s1", Status: StatusPending}
	require.NoError(t, s.MarkImplemented("alice", "", t0))
	assert.Equal(t, StatusImplemented, s.Status)
}

func TestSuggestion_MarkImplementedRefusedAfterReject(t *testing.T) {
	s := &Suggestion{ID: "s1", Status: StatusPending}
	require.NoError(t, s.Reject("alice", "unsafe", t0))
	err := s.MarkImplemented("alice", "", t0)
	assert.True(t, pkgerrors.IsInvalidTransition(err))
	assert.Equal(t, StatusRejected, s.Status)
}

func TestMetricsEstimator(t *testing.T) {
	e := NewMetricsEstimator(1000)

	tests := []struct {
		name       string
		stats      automation.StatsSnapshot
		gen        Generated
		impact     Impact
		confidence float64
	}{
		{
			name:       "failing safety automation",
			stats:      automation.StatsSnapshot{Executions: 100, Failures: 30},
			gen:        Generated{Type: "safety", Confidence: 0.9},
			impact:     ImpactCritical,
			confidence: 0.9,
		},
		{
			name:       "slow automation",
			stats:      automation.StatsSnapshot{Executions: 40, AvgResponseMs: 2500},
			gen:        Generated{Type: "performance", Confidence: 0.8},
			impact:     ImpactHigh,
			confidence: 0.8,
		},
		{
			name:       "busy healthy automation",
			stats:      automation.StatsSnapshot{Executions: 500, Failures: 5},
			gen:        Generated{Type: "efficiency", Confidence: 0.6},
			impact:     ImpactMedium,
			confidence: 0.6,
		},
		{
			name:       "no history damps confidence",
			stats:      automation.StatsSnapshot{},
			gen:        Generated{Type: "user_experience", Confidence: 0.9},
			impact:     ImpactLow,
			confidence: 0.45,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Estimate(tt.stats, tt.gen)
			assert.Equal(t, tt.impact, got.Impact)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, got, e.Estimate(tt.stats, tt.gen))
		})
	}
}
