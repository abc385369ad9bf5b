package filtering

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type matchCounter struct {
	pending     atomic.Int64
	total       atomic.Int64
	lastMatched atomic.Int64 // unix nanos
}

// MatchCounters accumulates rule hits from any number of workers and hands
// the pending deltas to the repository on Flush.
type MatchCounters struct {
	mu       sync.RWMutex
	counters map[string]*matchCounter
}

func NewMatchCounters() *MatchCounters {
	return &MatchCounters{counters: make(map[string]*matchCounter)}
}

func (m *MatchCounters) counter(ruleID string) *matchCounter {
	m.mu.RLock()
	c, ok := m.counters[ruleID]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[ruleID]; ok {
		return c
	}
	c = &matchCounter{}
	m.counters[ruleID] = c
	return c
}

func (m *MatchCounters) Record(ruleID string, at time.Time) {
	c := m.counter(ruleID)
	c.pending.Add(1)
	c.total.Add(1)

	ts := at.UnixNano()
	for {
		prev := c.lastMatched.Load()
		if prev >= ts || c.lastMatched.CompareAndSwap(prev, ts) {
			return
		}
	}
}

// Total returns the number of matches recorded since process start.
func (m *MatchCounters) Total(ruleID string) int64 {
	m.mu.RLock()
	c, ok := m.counters[ruleID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.total.Load()
}

func (m *MatchCounters) LastMatched(ruleID string) (time.Time, bool) {
	m.mu.RLock()
	c, ok := m.counters[ruleID]
	m.mu.RUnlock()
	if !ok || c.lastMatched.Load() == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, c.lastMatched.Load()).UTC(), true
}

type MatchSink interface {
	IncrementMatches(ctx context.Context, ruleID string, delta int64, lastMatchedAt time.Time) error
}

// Flush writes pending deltas to sink. Deltas that fail to persist are put
// back and retried on the next flush.
func (m *MatchCounters) Flush(ctx context.Context, sink MatchSink) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.counters))
	for id := range m.counters {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		c := m.counter(id)
		delta := c.pending.Swap(0)
		if delta == 0 {
			continue
		}
		last := time.Unix(0, c.lastMatched.Load()).UTC()
		if err := sink.IncrementMatches(ctx, id, delta, last); err != nil {
			c.pending.Add(delta)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
