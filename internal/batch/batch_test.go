package batch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func runningBatch(t *testing.T, maxRetries int) *Batch {
	t.Helper()
	b := New(TypeRealTime, maxRetries, t0)
	require.NoError(t, b.StartProcessing(t0))
	return b
}

func TestBatch_FilterEffectivenessAndSuccessRate(t *testing.T) {
	b := runningBatch(t, 3)
	b.BatchSize = 100

	for i := 0; i < 90; i++ {
		require.NoError(t, b.RecordOutcome(true))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, b.RecordOutcome(false))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, b.RecordFiltered())
	}

	require.NoError(t, b.Complete(t0.Add(1500*time.Millisecond)))
	assert.Equal(t, StatusCompleted, b.Status)
	assert.InDelta(t, 0.20, b.FilterEffectiveness, 1e-9)
	assert.InDelta(t, 0.90, b.SuccessRate(), 1e-9)
	assert.InDelta(t, 0.10, b.ErrorRate(), 1e-9)
	assert.Equal(t, 100, b.ProcessedCount)
	assert.Equal(t, int64(1500), b.ProcessingTimeMs)
	assert.Equal(t, 1500*time.Millisecond, b.Duration(t0.Add(time.Hour)))
}

func TestBatch_CounterInvariant(t *testing.T) {
	b := runningBatch(t, 0)
	outcomes := []bool{true, false, true, true, false}
	for i, ok := range outcomes {
		require.NoError(t, b.RecordOutcome(ok))
		assert.Equal(t, b.ProcessedCount, b.SuccessCount+b.ErrorCount, "after outcome %d", i)
	}
	require.NoError(t, b.RecordRecovered())
	assert.Equal(t, b.ProcessedCount, b.SuccessCount+b.ErrorCount)
	assert.Equal(t, 4, b.SuccessCount)
}

func TestBatch_ZeroDivision(t *testing.T) {
	b := runningBatch(t, 0)
	assert.Equal(t, 0.0, b.SuccessRate())
	assert.Equal(t, 0.0, b.ErrorRate())

	require.NoError(t, b.RecordFiltered())
	require.NoError(t, b.Complete(t0))
	assert.Equal(t, 0.0, b.FilterEffectiveness)
}

func TestBatch_FilterEffectivenessClamped(t *testing.T) {
	b := runningBatch(t, 0)
	b.BatchSize = 2
	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFiltered())
	}
	require.NoError(t, b.Complete(t0))
	assert.Equal(t, 1.0, b.FilterEffectiveness)
}

func TestBatch_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		prep func(b *Batch)
		op   func(b *Batch) error
	}{
		{name: "complete pending", prep: func(*Batch) {}, op: func(b *Batch) error { return b.Complete(t0) }},
		{name: "fail pending", prep: func(*Batch) {}, op: func(b *Batch) error { return b.Fail(ErrorDetail{}, t0) }},
		{name: "outcome pending", prep: func(*Batch) {}, op: func(b *Batch) error { return b.RecordOutcome(true) }},
		{name: "start running", prep: func(b *Batch) { _ = b.StartProcessing(t0) }, op: func(b *Batch) error { return b.StartProcessing(t0) }},
		{name: "retry running", prep: func(b *Batch) { _ = b.StartProcessing(t0) }, op: func(b *Batch) error { return b.ScheduleRetry(t0) }},
		{
			name: "start completed",
			prep: func(b *Batch) { _ = b.StartProcessing(t0); _ = b.Complete(t0) },
			op:   func(b *Batch) error { return b.StartProcessing(t0) },
		},
		{
			name: "cancel completed",
			prep: func(b *Batch) { _ = b.StartProcessing(t0); _ = b.Complete(t0) },
			op:   func(b *Batch) error { return b.Cancel(t0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(TypeScheduled, 3, t0)
			tt.prep(b)
			before := *b

			err := tt.op(b)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalidTransition(err))
			assert.Equal(t, before.Status, b.Status)
			assert.Equal(t, before.ProcessedCount, b.ProcessedCount)
		})
	}
}

func TestBatch_ScheduleRetryBackoff(t *testing.T) {
	b := runningBatch(t, 3)
	require.NoError(t, b.RecordOutcome(false))
	require.NoError(t, b.Fail(ErrorDetail{Message: "store unavailable"}, t0))
	assert.Equal(t, t0, b.ErrorDetail.OccurredAt)

	require.NoError(t, b.ScheduleRetry(t0))
	assert.Equal(t, StatusRetrying, b.Status)
	assert.Equal(t, 1, b.RetryCount)
	require.NotNil(t, b.NextRetryAt)
	assert.Equal(t, t0.Add(2*time.Minute), *b.NextRetryAt)

	assert.False(t, b.IsRetryDue(t0.Add(time.Minute)))
	assert.True(t, b.IsRetryDue(t0.Add(2*time.Minute)))

	assert.Equal(t, 4*time.Minute, RetryDelay(2))
	assert.Equal(t, 8*time.Minute, RetryDelay(3))
}

func TestBatch_RetryCap(t *testing.T) {
	const maxRetries = 3
	b := New(TypeRealTime, maxRetries, t0)
	now := t0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		require.NoError(t, b.StartProcessing(now))
		if attempt == 0 {
			require.NoError(t, b.RecordOutcome(false))
		}
		require.NoError(t, b.Fail(ErrorDetail{Message: "boom"}, now))

		err := b.ScheduleRetry(now)
		if attempt < maxRetries {
			require.NoError(t, err)
			now = *b.NextRetryAt
			continue
		}
		require.Error(t, err)
		assert.True(t, pkgerrors.IsFatal(err))
	}

	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, maxRetries, b.RetryCount)
	assert.True(t, b.IsTerminal())
	assert.False(t, b.IsRetryDue(now.Add(24*time.Hour)))
}

func TestBatch_Settle(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     Status
	}{
		{name: "all ok", outcomes: []bool{true, true}, want: StatusCompleted},
		{name: "all failed", outcomes: []bool{false, false}, want: StatusFailed},
		{name: "mixed", outcomes: []bool{true, false}, want: StatusPartial},
		{name: "empty", want: StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := runningBatch(t, 1)
			for _, ok := range tt.outcomes {
				require.NoError(t, b.RecordOutcome(ok))
			}
			require.NoError(t, b.Settle(ErrorDetail{Message: "write failed"}, t0))
			assert.Equal(t, tt.want, b.Status)
		})
	}
}

func TestBatch_PartialRetryRecovers(t *testing.T) {
	b := runningBatch(t, 2)
	require.NoError(t, b.RecordOutcome(true))
	require.NoError(t, b.RecordOutcome(false))
	require.NoError(t, b.MarkPartial(ErrorDetail{Message: "1 event failed", FailedEventIDs: []string{"e2"}}, t0))
	require.NoError(t, b.ScheduleRetry(t0))

	retryAt := *b.NextRetryAt
	require.NoError(t, b.StartProcessing(retryAt))
	assert.Nil(t, b.NextRetryAt)
	require.NoError(t, b.RecordRecovered())
	require.NoError(t, b.Settle(ErrorDetail{}, retryAt))

	assert.Equal(t, StatusCompleted, b.Status)
	assert.Nil(t, b.ErrorDetail)
	assert.Equal(t, 2, b.SuccessCount)
	assert.Equal(t, 0, b.ErrorCount)
}

func TestBatch_Cancel(t *testing.T) {
	b := runningBatch(t, 1)
	require.NoError(t, b.Cancel(t0.Add(time.Second)))
	assert.Equal(t, StatusCancelled, b.Status)
	assert.NotNil(t, b.CompletedAt)
	assert.True(t, b.IsTerminal())

	err := b.Cancel(t0)
	assert.True(t, pkgerrors.IsInvalidTransition(err))
}

func TestParseStatusAndType(t *testing.T) {
	s, err := ParseStatus("RETRYING")
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, s)
	_, err = ParseStatus("done")
	assert.Error(t, err)

	bt, err := ParseType("bulk_import")
	require.NoError(t, err)
	assert.Equal(t, TypeBulkImport, bt)
	_, err = ParseType("stream")
	assert.Error(t, err)
}

type memoryRepository struct {
	mu      sync.Mutex
	batches map[string]Batch
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{batches: make(map[string]Batch)}
}

func (r *memoryRepository) Save(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = *b
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return &b, nil
}

func (r *memoryRepository) List(_ context.Context, f Filter) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if f.Status == "" || b.Status == f.Status {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListDueRetries deliberately ignores now so the scheduler's own due check
// is exercised.
func (r *memoryRepository) ListDueRetries(_ context.Context, _ time.Time, _ int) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.Status == StatusRetrying {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepository) ClaimRetry(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.Status != StatusRetrying {
		return false, nil
	}
	b.Status = StatusRunning
	b.UpdatedAt = now
	r.batches[id] = b
	return true, nil
}

// staleListing serves a due list read before another replica claimed it.
type staleListing struct {
	*memoryRepository
	due []Batch
}

func (r staleListing) ListDueRetries(_ context.Context, _ time.Time, _ int) ([]Batch, error) {
	return r.due, nil
}

type recordingRunner struct {
	ran []string
}

func (r *recordingRunner) RunRetry(_ context.Context, b *Batch) error {
	r.ran = append(r.ran, b.ID)
	return nil
}

func TestRetryScheduler_RunDue(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	repo := newMemoryRepository()
	runner := &recordingRunner{}
	sched := NewRetryScheduler(repo, runner, clock, time.Minute, logger.NopLogger())

	b := runningBatch(t, 3)
	require.NoError(t, b.RecordOutcome(false))
	require.NoError(t, b.Fail(ErrorDetail{Message: "x"}, t0))
	require.NoError(t, b.ScheduleRetry(t0))
	require.NoError(t, repo.Save(context.Background(), b))

	n, err := sched.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(2 * time.Minute)
	n, err = sched.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{b.ID}, runner.ran)
}

func TestRetryScheduler_ClaimedBatchRunsOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	repo := newMemoryRepository()
	ctx := context.Background()

	b := runningBatch(t, 3)
	require.NoError(t, b.RecordOutcome(false))
	require.NoError(t, b.Fail(ErrorDetail{Message: "x"}, t0))
	require.NoError(t, b.ScheduleRetry(t0))
	require.NoError(t, repo.Save(ctx, b))
	clock.Advance(2 * time.Minute)

	due, err := repo.ListDueRetries(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	first := &recordingRunner{}
	n, err := NewRetryScheduler(repo, first, clock, time.Minute, logger.NopLogger()).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := &recordingRunner{}
	n, err = NewRetryScheduler(staleListing{repo, due}, second, clock, time.Minute, logger.NopLogger()).RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, second.ran)
	assert.Equal(t, []string{b.ID}, first.ran)

	stored, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)
}
