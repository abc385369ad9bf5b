package batch

import (
	"math"
	"time"

	"github.com/google/uuid"

	pkgerrors "homeflow/pkg/errors"
)

// ErrRetriesExhausted is returned by ScheduleRetry once MaxRetries retries
// have been spent. The batch is left as it was.
var ErrRetriesExhausted = pkgerrors.ErrFatal.WithDetail("message", "batch retries exhausted")

func New(batchType Type, maxRetries int, now time.Time) *Batch {
	return &Batch{
		ID:         uuid.New().String(),
		Type:       batchType,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		Metadata:   make(map[string]interface{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func invalidTransition(b *Batch, op string) error {
	return pkgerrors.ErrInvalidTransition.
		WithMessage("cannot %s batch %s in status %s", op, b.ID, b.Status).
		WithDetail("batch_id", b.ID).
		WithDetail("status", string(b.Status)).
		WithDetail("operation", op)
}

// StartProcessing moves a PENDING or RETRYING batch to RUNNING.
func (b *Batch) StartProcessing(now time.Time) error {
	switch b.Status {
	case StatusPending, StatusRetrying:
	default:
		return invalidTransition(b, "start")
	}

	b.Status = StatusRunning
	b.StartedAt = timePtr(now)
	b.CompletedAt = nil
	b.NextRetryAt = nil
	b.UpdatedAt = now
	return nil
}

// RecordOutcome counts one processed event.
func (b *Batch) RecordOutcome(success bool) error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "record outcome on")
	}
	b.ProcessedCount++
	if success {
		b.SuccessCount++
	} else {
		b.ErrorCount++
	}
	return nil
}

// RecordRecovered turns one previously failed event into a success. Used
// when a retry run manages to store it.
func (b *Batch) RecordRecovered() error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "record recovery on")
	}
	if b.ErrorCount == 0 {
		return pkgerrors.ErrFatal.WithMessage("batch %s has no failed events to recover", b.ID)
	}
	b.ErrorCount--
	b.SuccessCount++
	return nil
}

// RecordFiltered counts one event dropped by filtering.
func (b *Batch) RecordFiltered() error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "record filtered on")
	}
	b.FilteredCount++
	return nil
}

func (b *Batch) Complete(now time.Time) error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "complete")
	}
	b.finish(now)
	b.Status = StatusCompleted
	b.ErrorDetail = nil
	return nil
}

func (b *Batch) Fail(detail ErrorDetail, now time.Time) error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "fail")
	}
	b.finish(now)
	b.Status = StatusFailed
	if detail.OccurredAt.IsZero() {
		detail.OccurredAt = now
	}
	b.ErrorDetail = &detail
	return nil
}

func (b *Batch) MarkPartial(detail ErrorDetail, now time.Time) error {
	if b.Status != StatusRunning {
		return invalidTransition(b, "mark partial")
	}
	b.finish(now)
	b.Status = StatusPartial
	if detail.OccurredAt.IsZero() {
		detail.OccurredAt = now
	}
	b.ErrorDetail = &detail
	return nil
}

// Settle closes a RUNNING batch according to its counters: COMPLETED with no
// errors, FAILED with no successes, PARTIAL otherwise.
func (b *Batch) Settle(detail ErrorDetail, now time.Time) error {
	switch {
	case b.ErrorCount == 0:
		return b.Complete(now)
	case b.SuccessCount == 0:
		return b.Fail(detail, now)
	default:
		return b.MarkPartial(detail, now)
	}
}

func (b *Batch) Cancel(now time.Time) error {
	switch b.Status {
	case StatusCompleted, StatusCancelled:
		return invalidTransition(b, "cancel")
	}
	if b.Status == StatusRunning {
		b.finish(now)
	}
	b.Status = StatusCancelled
	b.NextRetryAt = nil
	b.UpdatedAt = now
	return nil
}

// ScheduleRetry moves a FAILED or PARTIAL batch to RETRYING with the next
// attempt 2^retryCount minutes after now.
func (b *Batch) ScheduleRetry(now time.Time) error {
	switch b.Status {
	case StatusFailed, StatusPartial:
	default:
		return invalidTransition(b, "schedule retry for")
	}
	if b.RetryCount >= b.MaxRetries {
		return ErrRetriesExhausted.
			WithDetail("batch_id", b.ID).
			WithDetail("retry_count", b.RetryCount)
	}

	b.RetryCount++
	b.Status = StatusRetrying
	b.NextRetryAt = timePtr(now.Add(RetryDelay(b.RetryCount)))
	b.UpdatedAt = now
	return nil
}

// RetryDelay is 2^retryCount minutes.
func RetryDelay(retryCount int) time.Duration {
	return time.Duration(math.Pow(2, float64(retryCount))) * time.Minute
}

func (b *Batch) IsRetryDue(now time.Time) bool {
	return b.Status == StatusRetrying && b.NextRetryAt != nil && !now.Before(*b.NextRetryAt)
}

// CanRetry reports whether another ScheduleRetry would be accepted.
func (b *Batch) CanRetry() bool {
	return b.RetryCount < b.MaxRetries
}

func (b *Batch) IsTerminal() bool {
	switch b.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed, StatusPartial:
		return !b.CanRetry()
	default:
		return false
	}
}

func (b *Batch) SuccessRate() float64 {
	if b.ProcessedCount == 0 {
		return 0
	}
	return float64(b.SuccessCount) / float64(b.ProcessedCount)
}

func (b *Batch) ErrorRate() float64 {
	if b.ProcessedCount == 0 {
		return 0
	}
	return float64(b.ErrorCount) / float64(b.ProcessedCount)
}

// Duration is the processing time so far, or the final one once finished.
func (b *Batch) Duration(now time.Time) time.Duration {
	if b.StartedAt == nil {
		return 0
	}
	if b.CompletedAt != nil {
		return b.CompletedAt.Sub(*b.StartedAt)
	}
	return now.Sub(*b.StartedAt)
}

func (b *Batch) finish(now time.Time) {
	b.CompletedAt = timePtr(now)
	if b.StartedAt != nil {
		b.ProcessingTimeMs = now.Sub(*b.StartedAt).Milliseconds()
	}
	b.FilterEffectiveness = filterEffectiveness(b.FilteredCount, b.BatchSize)
	b.UpdatedAt = now
}

func filterEffectiveness(filtered, size int) float64 {
	if size <= 0 {
		return 0
	}
	ratio := float64(filtered) / float64(size)
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

func timePtr(t time.Time) *time.Time {
	return &t
}
