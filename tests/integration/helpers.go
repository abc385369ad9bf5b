package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/filtering"
	"homeflow/internal/logger"
	"homeflow/internal/management"
	"homeflow/pkg/models"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
	eventuallyTimeout       = 30 * time.Second
	eventuallyTick          = 200 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestFilteringConfig() config.FilteringConfig {
	return config.FilteringConfig{
		Fallback: config.FallbackConfig{
			OnError: constants.FallbackSkip,
		},
		Reload: config.ReloadConfig{
			IntervalSeconds: 60,
		},
		MatchFlushInterval: time.Second,
		WindowBackend:      constants.WindowBackendMemory,
	}
}

func createTestConnection(t *testing.T, repo management.Repository, id, owner string) {
	t.Helper()
	require.NoError(t, repo.CreateConnection(context.Background(), &management.Connection{
		ID:      id,
		OwnerID: owner,
		Name:    id,
	}))
}

func createTestFilterRule(owner, name string, ruleType filtering.RuleType, action filtering.Action, priority int, enabled bool) *management.FilterRule {
	return &management.FilterRule{
		OwnerID:  owner,
		Name:     name,
		Type:     ruleType,
		Action:   action,
		Priority: priority,
		Enabled:  enabled,
	}
}

func createTestEvent(id, connectionID, eventType, entityID string) models.Event {
	return models.Event{
		ID:           id,
		ConnectionID: connectionID,
		EventType:    eventType,
		EntityID:     entityID,
		OldState:     "off",
		NewState:     "on",
		Attributes:   map[string]interface{}{"source": "integration"},
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}
}
