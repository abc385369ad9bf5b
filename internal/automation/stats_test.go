package automation

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
	"homeflow/internal/logger"
)

func TestExecutionStats_Record(t *testing.T) {
	stats := NewExecutionStats()
	stats.Record("a1", true, 100*time.Millisecond, t0)
	stats.Record("a1", false, 300*time.Millisecond, t0.Add(time.Minute))
	snap := stats.Record("a1", true, 200*time.Millisecond, t0.Add(30*time.Second))

	assert.Equal(t, int64(3), snap.Executions)
	assert.Equal(t, int64(1), snap.Failures)
	assert.InDelta(t, 200.0, snap.AvgResponseMs, 1e-9)
	assert.InDelta(t, 1.0/3, snap.FailureRate(), 1e-9)
	assert.Equal(t, t0.Add(time.Minute), snap.LastExecution)

	_, ok := stats.Get("missing")
	assert.False(t, ok)

	stats.Forget("a1")
	assert.Empty(t, stats.Snapshot())
}

func TestExecutionStats_ConcurrentRecord(t *testing.T) {
	stats := NewExecutionStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats.Record("a1", i%5 != 0, time.Millisecond, t0)
		}(i)
	}
	wg.Wait()

	snap, ok := stats.Get("a1")
	require.True(t, ok)
	assert.Equal(t, int64(50), snap.Executions)
	assert.Equal(t, int64(10), snap.Failures)
}

func TestMonitor_CheckHealthAndAlerts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	stats := NewExecutionStats()
	cfg := config.MonitoringConfig{
		FailureRateThreshold: 0.2,
		SlowResponseMs:       500,
		StaleAfter:           time.Hour,
	}
	mon := NewMonitor(stats, cfg, clock, logger.NopLogger())

	stats.Record("healthy", true, 50*time.Millisecond, t0)
	stats.Record("failing", false, 50*time.Millisecond, t0)
	stats.Record("slow", true, 900*time.Millisecond, t0)
	stats.Record("stale", true, 50*time.Millisecond, t0.Add(-2*time.Hour))

	statuses := make(map[string]HealthStatus)
	for _, r := range mon.CheckHealth() {
		statuses[r.AutomationID] = r.Status
	}
	assert.Equal(t, HealthHealthy, statuses["healthy"])
	assert.Equal(t, HealthFailing, statuses["failing"])
	assert.Equal(t, HealthDegraded, statuses["slow"])
	assert.Equal(t, HealthStale, statuses["stale"])

	kinds := make(map[string]AlertKind)
	for _, a := range mon.ScanAlerts() {
		kinds[a.AutomationID] = a.Kind
	}
	assert.Len(t, kinds, 3)
	assert.Equal(t, AlertHighFailureRate, kinds["failing"])
	assert.Equal(t, AlertSlowResponse, kinds["slow"])
	assert.Equal(t, AlertStale, kinds["stale"])
}
