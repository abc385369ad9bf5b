package config_handler

import (
	"context"

	"homeflow/internal/logger"
	"homeflow/pkg/models"
)

type ConfigReloader interface {
	ReloadRules(ctx context.Context) error
}

// Handler reacts to config update envelopes of one type by reloading.
type Handler struct {
	expectedType string
	reloader     ConfigReloader
	logger       logger.Logger
}

func NewHandler(expectedType string, reloader ConfigReloader, log logger.Logger) *Handler {
	return &Handler{
		expectedType: expectedType,
		reloader:     reloader,
		logger:       log,
	}
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, env models.Envelope) error {
	if env.Type != h.expectedType {
		return nil
	}

	event := models.ConfigUpdateFromPayload(env.Payload)
	h.logger.InfowCtx(ctx, "Received config update event",
		"type", env.Type,
		"action", event.Action,
		"rule_id", event.RuleID,
		"owner_id", event.OwnerID,
		"changed_by", event.ChangedBy,
	)

	if h.reloader == nil {
		return nil
	}

	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}
	h.logger.InfowCtx(ctx, "Rules reloaded successfully after config update", "action", event.Action)
	return nil
}
