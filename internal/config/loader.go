package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"homeflow/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "15s")
	v.SetDefault("server.write_timeout_seconds", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("broker.type", "kafka")
	v.SetDefault("broker.kafka.events_topic", constants.DefaultEventsTopic)
	v.SetDefault("broker.kafka.decisions_topic", constants.DefaultDecisionsTopic)
	v.SetDefault("broker.kafka.batches_topic", constants.DefaultBatchesTopic)
	v.SetDefault("broker.kafka.lifecycle_topic", constants.DefaultLifecycleTopic)
	v.SetDefault("broker.kafka.partition_buffer", 256)
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("database.migrations_dir", "migrations/postgres")
	v.SetDefault("database.mongodb.backup_collection", constants.DefaultBackupCollection)

	v.SetDefault("filtering.reload.interval_seconds", 60)
	v.SetDefault("filtering.fallback.on_error", constants.FallbackSkip)
	v.SetDefault("filtering.match_flush_interval", "10s")
	v.SetDefault("filtering.window_backend", constants.WindowBackendMemory)

	v.SetDefault("ingestion.batch_size", constants.DefaultBatchSize)
	v.SetDefault("ingestion.flush_interval", "5s")
	v.SetDefault("ingestion.max_retries", constants.DefaultMaxRetries)
	v.SetDefault("ingestion.retry_scan_interval", "30s")
	v.SetDefault("ingestion.dedupe_window_size", 10000)
	v.SetDefault("ingestion.dedupe_ttl_seconds", 3600)
	v.SetDefault("ingestion.on_redis_error", constants.FallbackAllow)
	v.SetDefault("ingestion.publish_decisions", true)
	v.SetDefault("ingestion.direct_write_max_attempts", 3)

	v.SetDefault("lifecycle.platform.timeout", "10s")

	v.SetDefault("approval.significance_threshold", constants.DefaultSignificanceThreshold)

	v.SetDefault("suggestion.requests_per_minute", 30)
	v.SetDefault("suggestion.timeout", "30s")
	v.SetDefault("suggestion.primary.model", "gpt-4o")
	v.SetDefault("suggestion.secondary.model", "gpt-4o-mini")

	v.SetDefault("monitoring.health_interval", "30s")
	v.SetDefault("monitoring.alert_interval", "60s")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.slow_response_ms", 5000.0)
	v.SetDefault("monitoring.stale_after", "24h")

	v.SetDefault("management.rate_limit.enabled", true)
	v.SetDefault("management.rate_limit.rps", 10.0)
	v.SetDefault("management.rate_limit.burst", 20)
	v.SetDefault("management.rate_limit.cleanup_interval", 300)
	v.SetDefault("management.rate_limit.max_age", 600)
}

func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	_ = v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	_ = v.BindEnv("broker.kafka.events_topic", "BROKER_KAFKA_EVENTS_TOPIC")
	_ = v.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	_ = v.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	_ = v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	_ = v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	_ = v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")

	_ = v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	_ = v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("logging.level", "LOGGING_LEVEL")

	_ = v.BindEnv("lifecycle.platform.base_url", "PLATFORM_BASE_URL")
	_ = v.BindEnv("lifecycle.platform.token", "PLATFORM_TOKEN")
	_ = v.BindEnv("suggestion.primary.api_key", "SUGGESTION_PRIMARY_API_KEY")
	_ = v.BindEnv("suggestion.secondary.api_key", "SUGGESTION_SECONDARY_API_KEY")

	_ = v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.enabled", "TRACING_ENABLED")
}

// applyEnvOverrides handles values viper cannot split on its own.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
