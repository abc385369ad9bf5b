package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedupe = "homeflow:dedupe:"
	CacheKeyPrefixWindow = "homeflow:window:"
	CacheKeyPrefixSpool  = "homeflow:spool:"
)

const (
	DefaultEventsTopic       = "home_events"
	DefaultDecisionsTopic    = "filter_decisions"
	DefaultBatchesTopic      = "batch_summaries"
	DefaultLifecycleTopic    = "automation_lifecycle"
	DefaultConfigUpdateTopic = "config_updates"
	DefaultDLQTopic          = "home_events_dlq"
)

const (
	DefaultMongoDBName      = "homeflow"
	DefaultBackupCollection = "automation_backups"
)

const (
	ShutdownTimeout     = 5 * time.Second
	BackupPruneInterval = time.Hour
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultBatchSize             = 100
	DefaultMaxRetries            = 3
	DefaultSignificanceThreshold = 0.7
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackSkip  = "skip"
)

const (
	WindowBackendMemory = "memory"
	WindowBackendRedis  = "redis"
)

const (
	ActorSystem = "system"
)
