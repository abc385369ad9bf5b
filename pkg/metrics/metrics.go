package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FilterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_decisions_total",
			Help: "Total number of filter decisions by resulting action (count)",
		},
		[]string{"action", "source"},
	)

	FilterEvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filter_evaluation_duration_ms",
			Help:    "Duration of evaluating one event against its rule set in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"action"},
	)

	FilterActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filter_active_rules",
			Help: "Number of enabled filter rules loaded (count)",
		},
	)

	FilterRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_rule_matches_total",
			Help: "Total number of rule matches (count)",
		},
		[]string{"rule_id", "result"},
	)

	FilterThrottledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filter_throttled_total",
			Help: "Total number of events throttled by frequency rules (count)",
		},
	)

	IngestionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_total",
			Help: "Total number of events handled by the ingestion coordinator (count)",
		},
		[]string{"status"},
	)

	IngestionPartitionQueue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestion_partition_queue_size",
			Help: "Events waiting in a partition worker queue (count)",
		},
		[]string{"partition"},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_total",
			Help: "Total number of batches reaching a status (count)",
		},
		[]string{"status"},
	)

	BatchFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_flush_duration_ms",
			Help:    "Duration of persisting one batch in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	BatchRetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_retries_scheduled_total",
			Help: "Total number of batch retries scheduled (count)",
		},
	)

	BatchFatalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_fatal_failures_total",
			Help: "Total number of batches left FAILED after exhausting retries (count)",
		},
	)

	LifecycleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_transitions_total",
			Help: "Total number of automation lifecycle transitions (count)",
		},
		[]string{"from", "to", "result"},
	)

	PlatformSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_platform_sync_total",
			Help: "Total number of platform synchronisation calls (count)",
		},
		[]string{"operation", "status"},
	)

	AutomationHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "automation_health",
			Help: "Automations by health classification (count)",
		},
		[]string{"status"},
	)

	AutomationAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_alerts_total",
			Help: "Total number of automation alerts raised (count)",
		},
		[]string{"kind"},
	)

	WorkflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_workflows_total",
			Help: "Total number of approval workflow status changes (count)",
		},
		[]string{"type", "status"},
	)

	EmergencyStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_stops_total",
			Help: "Total number of emergency stops (count)",
		},
		[]string{"trigger"},
	)

	SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestions_total",
			Help: "Total number of optimization suggestions by status (count)",
		},
		[]string{"status"},
	)

	SuggestionGeneratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestion_generator_requests_total",
			Help: "Total number of requests to suggestion generators (count)",
		},
		[]string{"generator", "status"},
	)

	SuggestionGeneratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "suggestion_generator_duration_ms",
			Help:    "Duration of suggestion generator requests in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"generator"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	fallbackOnce  sync.Once
	lifecycleOnce sync.Once
	databaseOnce  sync.Once
)

func RegisterFilteringMetrics() {
	prometheus.MustRegister(FilterDecisionsTotal)
	prometheus.MustRegister(FilterEvaluationDuration)
	prometheus.MustRegister(FilterActiveRules)
	prometheus.MustRegister(FilterRuleMatchesTotal)
	prometheus.MustRegister(FilterThrottledTotal)
	registerFallbackUsageTotalOnce()
}

func RegisterIngestionMetrics() {
	prometheus.MustRegister(IngestionEventsTotal)
	prometheus.MustRegister(IngestionPartitionQueue)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchFlushDuration)
	prometheus.MustRegister(BatchRetriesScheduledTotal)
	prometheus.MustRegister(BatchFatalFailuresTotal)
	registerFallbackUsageTotalOnce()
	registerDatabaseMetricsOnce()
}

// RegisterLifecycleMetrics covers automations, approvals and suggestions.
// Both binaries call it.
func RegisterLifecycleMetrics() {
	lifecycleOnce.Do(func() {
		prometheus.MustRegister(LifecycleTransitionsTotal)
		prometheus.MustRegister(PlatformSyncTotal)
		prometheus.MustRegister(AutomationHealth)
		prometheus.MustRegister(AutomationAlertsTotal)
		prometheus.MustRegister(WorkflowsTotal)
		prometheus.MustRegister(EmergencyStopsTotal)
		prometheus.MustRegister(SuggestionsTotal)
		prometheus.MustRegister(SuggestionGeneratorRequestsTotal)
		prometheus.MustRegister(SuggestionGeneratorDuration)
	})
	registerFallbackUsageTotalOnce()
}

func registerFallbackUsageTotalOnce() {
	fallbackOnce.Do(func() {
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func registerDatabaseMetricsOnce() {
	databaseOnce.Do(func() {
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaReadDuration)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	registerDatabaseMetricsOnce()
}

func ObserveFilterEvaluation(duration time.Duration, action string) {
	FilterEvaluationDuration.WithLabelValues(action).Observe(float64(duration.Microseconds()) / 1000)
}

func IncFilterDecision(action, source string) {
	FilterDecisionsTotal.WithLabelValues(action, source).Inc()
}

func SetFilterActiveRules(count int) {
	FilterActiveRules.Set(float64(count))
}

func IncFilterRuleMatch(ruleID, result string) {
	FilterRuleMatchesTotal.WithLabelValues(ruleID, result).Inc()
}

func IncIngestionEvents(status string) {
	IngestionEventsTotal.WithLabelValues(status).Inc()
}

func SetPartitionQueueSize(partition int, size int) {
	IngestionPartitionQueue.WithLabelValues(fmt.Sprintf("%d", partition)).Set(float64(size))
}

func IncBatches(status string) {
	BatchesTotal.WithLabelValues(status).Inc()
}

func ObserveBatchFlush(duration time.Duration, status string) {
	BatchFlushDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncBatchRetryScheduled() {
	BatchRetriesScheduledTotal.Inc()
}

func IncBatchFatalFailure() {
	BatchFatalFailuresTotal.Inc()
}

func IncDeadLetter(service, topic, reason string) {
	DLQMessagesTotal.WithLabelValues(service, topic, reason).Inc()
}

func IncLifecycleTransition(from, to, result string) {
	LifecycleTransitionsTotal.WithLabelValues(from, to, result).Inc()
}

func IncPlatformSync(operation, status string) {
	PlatformSyncTotal.WithLabelValues(operation, status).Inc()
}

func SetAutomationHealth(status string, count int) {
	AutomationHealth.WithLabelValues(status).Set(float64(count))
}

func IncAutomationAlert(kind string) {
	AutomationAlertsTotal.WithLabelValues(kind).Inc()
}

func IncWorkflow(workflowType, status string) {
	WorkflowsTotal.WithLabelValues(workflowType, status).Inc()
}

func IncEmergencyStop(trigger string) {
	EmergencyStopsTotal.WithLabelValues(trigger).Inc()
}

func IncSuggestion(status string) {
	SuggestionsTotal.WithLabelValues(status).Inc()
}

func IncSuggestionGeneratorRequest(generator, status string) {
	SuggestionGeneratorRequestsTotal.WithLabelValues(generator, status).Inc()
}

func ObserveSuggestionGeneratorDuration(generator string, duration time.Duration) {
	SuggestionGeneratorDuration.WithLabelValues(generator).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
