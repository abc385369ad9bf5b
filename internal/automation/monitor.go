package automation

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"homeflow/internal/config"
	"homeflow/internal/logger"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
	HealthStale    HealthStatus = "stale"
)

var healthStatuses = []HealthStatus{HealthHealthy, HealthDegraded, HealthFailing, HealthStale}

type AlertKind string

const (
	AlertHighFailureRate AlertKind = "high_failure_rate"
	AlertSlowResponse    AlertKind = "slow_response"
	AlertStale           AlertKind = "stale"
)

type HealthReport struct {
	AutomationID string        `json:"automation_id"`
	Status       HealthStatus  `json:"status"`
	Stats        StatsSnapshot `json:"stats"`
}

type Alert struct {
	AutomationID string    `json:"automation_id"`
	Kind         AlertKind `json:"kind"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
}

// Monitor periodically classifies automations from their execution stats.
// Its output is advisory.
type Monitor struct {
	stats  *ExecutionStats
	cfg    config.MonitoringConfig
	clock  clockwork.Clock
	logger logger.Logger
}

func NewMonitor(stats *ExecutionStats, cfg config.MonitoringConfig, clock clockwork.Clock, log logger.Logger) *Monitor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = 60 * time.Second
	}
	return &Monitor{stats: stats, cfg: cfg, clock: clock, logger: log}
}

func (m *Monitor) classify(s StatsSnapshot, now time.Time) HealthStatus {
	switch {
	case m.cfg.StaleAfter > 0 && !s.LastExecution.IsZero() && now.Sub(s.LastExecution) > m.cfg.StaleAfter:
		return HealthStale
	case m.cfg.FailureRateThreshold > 0 && s.FailureRate() > m.cfg.FailureRateThreshold:
		return HealthFailing
	case m.cfg.SlowResponseMs > 0 && s.AvgResponseMs > m.cfg.SlowResponseMs:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// CheckHealth classifies every tracked automation and updates the health
// gauges.
func (m *Monitor) CheckHealth() []HealthReport {
	now := m.clock.Now()
	snaps := m.stats.Snapshot()

	counts := make(map[HealthStatus]int, len(healthStatuses))
	reports := make([]HealthReport, 0, len(snaps))
	for _, s := range snaps {
		status := m.classify(s, now)
		counts[status]++
		reports = append(reports, HealthReport{AutomationID: s.AutomationID, Status: status, Stats: s})
	}
	for _, status := range healthStatuses {
		metrics.SetAutomationHealth(string(status), counts[status])
	}
	return reports
}

// ScanAlerts returns every threshold breach in the current stats.
func (m *Monitor) ScanAlerts() []Alert {
	now := m.clock.Now()

	var alerts []Alert
	for _, s := range m.stats.Snapshot() {
		if m.cfg.FailureRateThreshold > 0 && s.FailureRate() > m.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{s.AutomationID, AlertHighFailureRate, s.FailureRate(), m.cfg.FailureRateThreshold})
		}
		if m.cfg.SlowResponseMs > 0 && s.AvgResponseMs > m.cfg.SlowResponseMs {
			alerts = append(alerts, Alert{s.AutomationID, AlertSlowResponse, s.AvgResponseMs, m.cfg.SlowResponseMs})
		}
		if m.cfg.StaleAfter > 0 && !s.LastExecution.IsZero() {
			if idle := now.Sub(s.LastExecution); idle > m.cfg.StaleAfter {
				alerts = append(alerts, Alert{s.AutomationID, AlertStale, idle.Seconds(), m.cfg.StaleAfter.Seconds()})
			}
		}
	}
	return alerts
}

func (m *Monitor) Start(ctx context.Context) error {
	healthTicker := m.clock.NewTicker(m.cfg.HealthInterval)
	defer healthTicker.Stop()
	alertTicker := m.clock.NewTicker(m.cfg.AlertInterval)
	defer alertTicker.Stop()

	m.logger.InfowCtx(ctx, "Automation monitor started",
		"health_interval", m.cfg.HealthInterval,
		"alert_interval", m.cfg.AlertInterval,
	)

	for {
		select {
		case <-healthTicker.Chan():
			for _, r := range m.CheckHealth() {
				if r.Status != HealthHealthy {
					m.logger.DebugwCtx(logging.WithAutomationID(ctx, r.AutomationID), "Automation unhealthy", "status", r.Status)
				}
			}
		case <-alertTicker.Chan():
			for _, a := range m.ScanAlerts() {
				metrics.IncAutomationAlert(string(a.Kind))
				m.logger.WarnwCtx(logging.WithAutomationID(ctx, a.AutomationID), "Automation alert",
					"kind", a.Kind,
					"value", a.Value,
					"threshold", a.Threshold,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
