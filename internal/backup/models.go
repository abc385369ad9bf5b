package backup

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeAutomatic          Type = "automatic"
	TypeManual             Type = "manual"
	TypeBeforeModification Type = "before_modification"
	TypeBeforeTransition   Type = "before_transition"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypeAutomatic, TypeManual, TypeBeforeModification, TypeBeforeTransition:
		return t, nil
	default:
		return "", fmt.Errorf("unknown backup type %q", s)
	}
}

const (
	recentWindow = 24 * time.Hour
	oldAfter     = 30 * 24 * time.Hour
)

// Backup is an immutable snapshot of an automation's configuration.
type Backup struct {
	ID           string                 `json:"id"`
	AutomationID string                 `json:"automation_id"`
	Type         Type                   `json:"type"`
	Payload      json.RawMessage        `json:"payload"`
	Size         int                    `json:"size"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy    string                 `json:"created_by"`
	CreatedAt    time.Time              `json:"created_at"`
}

// IsRecent reports whether the backup is less than a day old.
func (b *Backup) IsRecent(now time.Time) bool {
	return now.Sub(b.CreatedAt) < recentWindow
}

// IsOld reports whether the backup is more than 30 days old.
func (b *Backup) IsOld(now time.Time) bool {
	return now.Sub(b.CreatedAt) > oldAfter
}
