package automation

import (
	"sync"
	"time"
)

// StatsSnapshot is a read-only copy of one automation's execution counters.
type StatsSnapshot struct {
	AutomationID  string    `json:"automation_id"`
	Executions    int64     `json:"executions"`
	Failures      int64     `json:"failures"`
	AvgResponseMs float64   `json:"avg_response_ms"`
	LastExecution time.Time `json:"last_execution"`
}

func (s StatsSnapshot) FailureRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Executions)
}

func (s StatsSnapshot) SuccessRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return 1 - s.FailureRate()
}

type execCounters struct {
	executions   int64
	failures     int64
	totalLatency time.Duration
	last         time.Time
}

// ExecutionStats is a concurrent registry of per-automation execution
// counters. Create one per process and pass it to whoever records or reads.
type ExecutionStats struct {
	mu       sync.RWMutex
	counters map[string]*execCounters
}

func NewExecutionStats() *ExecutionStats {
	return &ExecutionStats{counters: make(map[string]*execCounters)}
}

func (s *ExecutionStats) Record(automationID string, success bool, latency time.Duration, at time.Time) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[automationID]
	if !ok {
		c = &execCounters{}
		s.counters[automationID] = c
	}
	c.executions++
	if !success {
		c.failures++
	}
	c.totalLatency += latency
	if at.After(c.last) {
		c.last = at
	}
	return c.snapshot(automationID)
}

func (s *ExecutionStats) Get(automationID string) (StatsSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[automationID]
	if !ok {
		return StatsSnapshot{AutomationID: automationID}, false
	}
	return c.snapshot(automationID), true
}

// Forget drops the counters of a retired automation.
func (s *ExecutionStats) Forget(automationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, automationID)
}

func (s *ExecutionStats) Snapshot() []StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StatsSnapshot, 0, len(s.counters))
	for id, c := range s.counters {
		out = append(out, c.snapshot(id))
	}
	return out
}

func (c *execCounters) snapshot(id string) StatsSnapshot {
	snap := StatsSnapshot{
		AutomationID:  id,
		Executions:    c.executions,
		Failures:      c.failures,
		LastExecution: c.last,
	}
	if c.executions > 0 {
		snap.AvgResponseMs = float64(c.totalLatency.Milliseconds()) / float64(c.executions)
	}
	return snap
}
