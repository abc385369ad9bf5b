package filtering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	deltas map[string]int64
	last   map[string]time.Time
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{deltas: map[string]int64{}, last: map[string]time.Time{}}
}

func (s *recordingSink) IncrementMatches(_ context.Context, ruleID string, delta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deltas[ruleID] += delta
	s.last[ruleID] = at
	return nil
}

func TestMatchCounters_ConcurrentRecord(t *testing.T) {
	m := NewMatchCounters()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Record("rule-1", baseTime.Add(time.Duration(w*500+i)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(4000), m.Total("rule-1"))
	last, ok := m.LastMatched("rule-1")
	require.True(t, ok)
	assert.Equal(t, baseTime.Add(3999*time.Millisecond), last)
}

func TestMatchCounters_Flush(t *testing.T) {
	m := NewMatchCounters()
	m.Record("a", baseTime)
	m.Record("a", baseTime.Add(time.Second))
	m.Record("b", baseTime)

	sink := newRecordingSink()
	require.NoError(t, m.Flush(context.Background(), sink))
	assert.Equal(t, int64(2), sink.deltas["a"])
	assert.Equal(t, int64(1), sink.deltas["b"])
	assert.Equal(t, baseTime.Add(time.Second), sink.last["a"])

	require.NoError(t, m.Flush(context.Background(), sink))
	assert.Equal(t, int64(2), sink.deltas["a"], "nothing pending after a flush")
}

func TestMatchCounters_FlushFailureKeepsPending(t *testing.T) {
	m := NewMatchCounters()
	m.Record("a", baseTime)

	failing := newRecordingSink()
	failing.err = errors.New("db unavailable")
	assert.Error(t, m.Flush(context.Background(), failing))

	sink := newRecordingSink()
	require.NoError(t, m.Flush(context.Background(), sink))
	assert.Equal(t, int64(1), sink.deltas["a"])
}

func TestMemoryWindow(t *testing.T) {
	w := NewMemoryWindow()
	ctx := context.Background()

	n, err := w.Hit(ctx, "k", baseTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = w.Hit(ctx, "k", baseTime.Add(30*time.Second), time.Minute)
	assert.Equal(t, 2, n)

	n, _ = w.Hit(ctx, "k", baseTime.Add(61*time.Second), time.Minute)
	assert.Equal(t, 2, n)

	n, _ = w.Hit(ctx, "other", baseTime, time.Minute)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, w.Len())
}

func TestMemoryWindow_SweepDropsIdleKeys(t *testing.T) {
	w := NewMemoryWindow()
	ctx := context.Background()

	_, err := w.Hit(ctx, "idle", baseTime, time.Minute)
	require.NoError(t, err)
	_, err = w.Hit(ctx, "busy", baseTime.Add(90*time.Second), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, w.Sweep(baseTime.Add(2*time.Minute)))
	assert.Equal(t, 1, w.Len())

	n, err := w.Hit(ctx, "busy", baseTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryWindow_StaysBoundedUnderKeyChurn(t *testing.T) {
	w := NewMemoryWindow()
	ctx := context.Background()

	for i := 0; i < 10*memoryWindowSweepEvery; i++ {
		at := baseTime.Add(time.Duration(i) * 2 * time.Minute)
		_, err := w.Hit(ctx, fmt.Sprintf("rule|sensor.%d", i), at, time.Minute)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, w.Len(), memoryWindowSweepEvery)
}
