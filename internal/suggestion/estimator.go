package suggestion

import (
	"math"

	"homeflow/internal/automation"
)

// Estimate is the estimator's view of a generated suggestion.
type Estimate struct {
	Impact     Impact
	Confidence float64
}

// ImpactEstimator scores a proposal against the automation's observed
// execution stats. Implementations must be deterministic.
type ImpactEstimator interface {
	Estimate(stats automation.StatsSnapshot, g Generated) Estimate
}

// MetricsEstimator derives impact from failure rate, latency and usage, and
// damps the generator's confidence when there is little execution history.
type MetricsEstimator struct {
	SlowResponseMs float64
	MinExecutions  int64
}

func NewMetricsEstimator(slowResponseMs float64) *MetricsEstimator {
	if slowResponseMs <= 0 {
		slowResponseMs = 5000
	}
	return &MetricsEstimator{SlowResponseMs: slowResponseMs, MinExecutions: 20}
}

func (e *MetricsEstimator) Estimate(stats automation.StatsSnapshot, g Generated) Estimate {
	failureRate := stats.FailureRate()

	impact := ImpactLow
	switch {
	case Type(g.Type) == TypeSafety && failureRate > 0.2:
		impact = ImpactCritical
	case failureRate > 0.1 || stats.AvgResponseMs > e.SlowResponseMs:
		impact = ImpactHigh
	case stats.Executions >= 100:
		impact = ImpactMedium
	}

	confidence := g.Confidence
	if e.MinExecutions > 0 && stats.Executions < e.MinExecutions {
		confidence *= float64(stats.Executions+e.MinExecutions) / float64(2*e.MinExecutions)
	}
	confidence = math.Round(math.Max(0, math.Min(1, confidence))*1000) / 1000

	return Estimate{Impact: impact, Confidence: confidence}
}
