package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Filtering      FilteringConfig      `mapstructure:"filtering"`
	Ingestion      IngestionConfig      `mapstructure:"ingestion"`
	Lifecycle      LifecycleConfig      `mapstructure:"lifecycle"`
	Approval       ApprovalConfig       `mapstructure:"approval"`
	Suggestion     SuggestionConfig     `mapstructure:"suggestion"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Management     ManagementConfig     `mapstructure:"management"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
	MigrationsDir string         `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI              string `mapstructure:"uri"`
	Database         string `mapstructure:"database"`
	BackupCollection string `mapstructure:"backup_collection"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	EventsTopic       string      `mapstructure:"events_topic"`
	DecisionsTopic    string      `mapstructure:"decisions_topic"`
	BatchesTopic      string      `mapstructure:"batches_topic"`
	LifecycleTopic    string      `mapstructure:"lifecycle_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	PartitionBuffer   int         `mapstructure:"partition_buffer"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FilteringConfig struct {
	Reload             ReloadConfig     `mapstructure:"reload"`
	Fallback           FallbackConfig   `mapstructure:"fallback"`
	Importance         ImportanceConfig `mapstructure:"importance"`
	MatchFlushInterval time.Duration    `mapstructure:"match_flush_interval"`
	WindowBackend      string           `mapstructure:"window_backend"` // "memory" or "redis"
}

type FallbackConfig struct {
	OnError string `mapstructure:"on_error"` // "allow", "deny", "skip"
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

// ImportanceConfig overrides the built-in important event classification.
type ImportanceConfig struct {
	EventTypes     []string `mapstructure:"event_types"`
	EntityPrefixes []string `mapstructure:"entity_prefixes"`
}

type IngestionConfig struct {
	BatchSize              int           `mapstructure:"batch_size"`
	FlushInterval          time.Duration `mapstructure:"flush_interval"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryScanInterval      time.Duration `mapstructure:"retry_scan_interval"`
	DedupeWindowSize       int           `mapstructure:"dedupe_window_size"`
	DedupeTTLSeconds       int           `mapstructure:"dedupe_ttl_seconds"`
	OnRedisError           string        `mapstructure:"on_redis_error"` // "allow" or "deny"
	PublishDecisions       bool          `mapstructure:"publish_decisions"`
	DirectWriteMaxAttempts int           `mapstructure:"direct_write_max_attempts"`
}

type LifecycleConfig struct {
	Platform PlatformConfig `mapstructure:"platform"`
}

// PlatformConfig points at the home-control platform REST API.
type PlatformConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ApprovalConfig struct {
	SignificanceThreshold float64 `mapstructure:"significance_threshold"`
}

type SuggestionConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Primary           LLMConfig     `mapstructure:"primary"`
	Secondary         LLMConfig     `mapstructure:"secondary"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type MonitoringConfig struct {
	HealthInterval       time.Duration `mapstructure:"health_interval"`
	AlertInterval        time.Duration `mapstructure:"alert_interval"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	SlowResponseMs       float64       `mapstructure:"slow_response_ms"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
