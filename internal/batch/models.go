package batch

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPartial   Status = "partial"
	StatusRetrying  Status = "retrying"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusCancelled, StatusPartial, StatusRetrying:
		return st, nil
	default:
		return "", fmt.Errorf("unknown batch status %q", s)
	}
}

type Type string

const (
	TypeRealTime   Type = "real_time"
	TypeScheduled  Type = "scheduled"
	TypeRetry      Type = "retry"
	TypeBulkImport Type = "bulk_import"
	TypeBackfill   Type = "backfill"
	TypeCleanup    Type = "cleanup"
	TypeAnalytics  Type = "analytics"
	TypeMigration  Type = "migration"
)

func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypeRealTime, TypeScheduled, TypeRetry, TypeBulkImport,
		TypeBackfill, TypeCleanup, TypeAnalytics, TypeMigration:
		return t, nil
	default:
		return "", fmt.Errorf("unknown batch type %q", s)
	}
}

// ErrorDetail describes why a batch did not complete.
type ErrorDetail struct {
	Message        string    `json:"message"`
	Code           string    `json:"code,omitempty"`
	FailedEventIDs []string  `json:"failed_event_ids,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Batch struct {
	ID                  string                 `json:"id"`
	OwnerID             string                 `json:"owner_id,omitempty"`
	ConnectionID        string                 `json:"connection_id,omitempty"`
	Type                Type                   `json:"type"`
	Status              Status                 `json:"status"`
	Source              string                 `json:"source,omitempty"`
	Partition           int                    `json:"partition"`
	BatchSize           int                    `json:"batch_size"`
	ProcessedCount      int                    `json:"processed_count"`
	SuccessCount        int                    `json:"success_count"`
	ErrorCount          int                    `json:"error_count"`
	FilteredCount       int                    `json:"filtered_count"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	ProcessingTimeMs    int64                  `json:"processing_time_ms"`
	RetryCount          int                    `json:"retry_count"`
	MaxRetries          int                    `json:"max_retries"`
	NextRetryAt         *time.Time             `json:"next_retry_at,omitempty"`
	FilterEffectiveness float64                `json:"filter_effectiveness"`
	ErrorDetail         *ErrorDetail           `json:"error_detail,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Filter narrows List queries. Zero values mean "any".
type Filter struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}
