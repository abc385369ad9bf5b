package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

const maxEntityIDLength = 255

func ValidateEvent(evt *Event) error {
	if evt == nil {
		return &ValidationError{Field: "event", Message: "event cannot be nil"}
	}
	if strings.TrimSpace(evt.ID) == "" {
		return &ValidationError{Field: "id", Message: "event ID is required"}
	}
	if strings.TrimSpace(evt.ConnectionID) == "" {
		return &ValidationError{Field: "connectionId", Message: "connection ID is required"}
	}
	if strings.TrimSpace(evt.EventType) == "" {
		return &ValidationError{Field: "eventType", Message: "event type is required"}
	}
	if len(evt.EntityID) > maxEntityIDLength {
		return &ValidationError{
			Field:   "entityId",
			Message: fmt.Sprintf("entity ID exceeds %d characters", maxEntityIDLength),
		}
	}
	if evt.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "event timestamp is required"}
	}
	return nil
}
