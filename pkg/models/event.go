package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one observed state change delivered by the transport. It is
// immutable once decoded.
type Event struct {
	ID           string                 `json:"id"`
	ConnectionID string                 `json:"connectionId"`
	EventType    string                 `json:"eventType"`
	EntityID     string                 `json:"entityId,omitempty"`
	OldState     string                 `json:"oldState,omitempty"`
	NewState     string                 `json:"newState,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`

	// Set by the consumer, never by producers.
	IngestedAt time.Time `json:"-"`
	Partition  int       `json:"-"`
	Offset     int64     `json:"-"`
}

// StateChanged reports whether the event carries a state transition.
func (e Event) StateChanged() bool {
	return e.OldState != e.NewState
}

// DecodeEvent parses and validates a raw transport payload.
func DecodeEvent(raw []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if err := ValidateEvent(&evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}
