package filtering

import (
	"homeflow/internal/config_handler"
	"homeflow/internal/logger"
	"homeflow/pkg/models"
)

type Handler = config_handler.Handler

// NewHandler reloads service whenever a filter rule changes.
func NewHandler(service *Service, log logger.Logger) *Handler {
	return config_handler.NewHandler(models.TypeFilterRuleUpdated, service, log)
}
