package management

import (
	"time"

	"homeflow/internal/filtering"
)

// FilterRule is the rule as managed through the API.
type FilterRule = filtering.Rule

type CreateFilterRuleRequest struct {
	OwnerID           string              `json:"owner_id" binding:"required"`
	ConnectionID      string              `json:"connection_id"`
	Name              string              `json:"name" binding:"required"`
	Description       string              `json:"description"`
	Type              string              `json:"type" binding:"required"`
	Action            string              `json:"action" binding:"required"`
	Condition         filtering.Condition `json:"condition"`
	FrequencyLimit    int                 `json:"frequency_limit"`
	TimeWindowMinutes int                 `json:"time_window_minutes"`
	Priority          int                 `json:"priority"`
	Enabled           *bool               `json:"enabled"`
}

type UpdateFilterRuleRequest struct {
	ConnectionID      *string              `json:"connection_id"`
	Name              *string              `json:"name"`
	Description       *string              `json:"description"`
	Type              *string              `json:"type"`
	Action            *string              `json:"action"`
	Condition         *filtering.Condition `json:"condition"`
	FrequencyLimit    *int                 `json:"frequency_limit"`
	TimeWindowMinutes *int                 `json:"time_window_minutes"`
	Priority          *int                 `json:"priority"`
	Enabled           *bool                `json:"enabled"`
}

// Connection binds a home-control platform connection to the owner whose
// rules apply to its events.
type Connection struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateConnectionRequest struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id" binding:"required"`
	Name    string `json:"name"`
}

type RuleListFilter struct {
	OwnerID string
	Limit   int
	Offset  int
}
