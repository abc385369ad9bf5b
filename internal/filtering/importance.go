package filtering

import (
	"strings"

	"homeflow/pkg/models"
)

// ImportancePolicy classifies events that pass through when no rule matches.
type ImportancePolicy interface {
	IsImportant(evt models.Event) bool
}

var (
	DefaultImportantEventTypes = []string{
		"automation_triggered",
		"configuration_changed",
		"automation_reloaded",
		"service_registered",
		"homeassistant_start",
		"homeassistant_stop",
	}

	DefaultImportantEntityPrefixes = []string{
		"alarm_control_panel.",
		"lock.",
		"binary_sensor.smoke",
		"binary_sensor.co",
		"binary_sensor.water_leak",
		"binary_sensor.gas",
		"siren.",
	}
)

type StaticImportancePolicy struct {
	eventTypes     map[string]struct{}
	entityPrefixes []string
}

// NewImportancePolicy builds a policy from explicit lists. Empty lists fall
// back to the defaults.
func NewImportancePolicy(eventTypes, entityPrefixes []string) *StaticImportancePolicy {
	if len(eventTypes) == 0 {
		eventTypes = DefaultImportantEventTypes
	}
	if len(entityPrefixes) == 0 {
		entityPrefixes = DefaultImportantEntityPrefixes
	}

	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	prefixes := make([]string, len(entityPrefixes))
	copy(prefixes, entityPrefixes)

	return &StaticImportancePolicy{eventTypes: types, entityPrefixes: prefixes}
}

func DefaultImportancePolicy() *StaticImportancePolicy {
	return NewImportancePolicy(nil, nil)
}

func (p *StaticImportancePolicy) IsImportant(evt models.Event) bool {
	if _, ok := p.eventTypes[evt.EventType]; ok {
		return true
	}
	if evt.EntityID == "" {
		return false
	}
	for _, prefix := range p.entityPrefixes {
		if strings.HasPrefix(evt.EntityID, prefix) {
			return true
		}
	}
	return false
}
