package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError names the offending key by its YAML path.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// problems collects every ValidationError instead of stopping at the first.
type problems []error

func (p *problems) add(field, format string, args ...interface{}) {
	*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) check(ok bool, field, format string, args ...interface{}) {
	if !ok {
		p.add(field, format, args...)
	}
}

func (p *problems) port(field string, port int) {
	p.check(port >= 1 && port <= 65535, field, "must be between 1 and 65535, got %d", port)
}

func (p *problems) oneOf(field, value string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	p.add(field, "invalid value %q (valid: %s)", value, strings.Join(allowed, ", "))
}

// ValidateStatic checks everything that can be checked without touching
// the network. All problems are returned joined.
func ValidateStatic(cfg *Config) error {
	var p problems

	p.port("server.port", cfg.Server.Port)
	p.check(cfg.Server.ReadTimeoutSeconds > 0, "server.read_timeout_seconds", "must be positive")
	p.check(cfg.Server.WriteTimeoutSeconds > 0, "server.write_timeout_seconds", "must be positive")

	validateBroker(&p, cfg.Broker)
	validateDatabase(&p, cfg.Database)

	p.oneOf("filtering.fallback.on_error", cfg.Filtering.Fallback.OnError, "allow", "deny", "skip")
	p.oneOf("filtering.window_backend", cfg.Filtering.WindowBackend, "memory", "redis")
	p.check(cfg.Filtering.Reload.IntervalSeconds >= 0, "filtering.reload.interval_seconds", "must not be negative")

	ing := cfg.Ingestion
	p.check(ing.BatchSize > 0, "ingestion.batch_size", "must be positive, got %d", ing.BatchSize)
	p.check(ing.FlushInterval > 0, "ingestion.flush_interval", "must be positive")
	p.check(ing.MaxRetries >= 0, "ingestion.max_retries", "must not be negative")
	p.check(ing.DedupeWindowSize >= 0, "ingestion.dedupe_window_size", "must not be negative")
	p.check(ing.DedupeTTLSeconds >= 0, "ingestion.dedupe_ttl_seconds", "must not be negative")
	p.oneOf("ingestion.on_redis_error", ing.OnRedisError, "allow", "deny")

	p.check(!cfg.Lifecycle.Platform.Enabled || cfg.Lifecycle.Platform.BaseURL != "",
		"lifecycle.platform.base_url", "required when platform sync is enabled")

	th := cfg.Approval.SignificanceThreshold
	p.check(th >= 0 && th <= 1, "approval.significance_threshold", "must be within [0, 1], got %v", th)

	if s := cfg.Suggestion; s.Enabled {
		p.check(s.Primary.Model != "", "suggestion.primary.model", "required when suggestions are enabled")
		p.check(s.RequestsPerMinute >= 0, "suggestion.requests_per_minute", "must not be negative")
	}

	m := cfg.Monitoring
	p.check(m.FailureRateThreshold >= 0 && m.FailureRateThreshold <= 1,
		"monitoring.failure_rate_threshold", "must be within [0, 1], got %v", m.FailureRateThreshold)

	if rl := cfg.Management.RateLimit; rl.Enabled {
		p.check(rl.RPS > 0, "management.rate_limit.rps", "must be positive when rate limiting is enabled")
		p.check(rl.Burst > 0, "management.rate_limit.burst", "must be positive when rate limiting is enabled")
	}

	if len(p) > 0 {
		return errors.Join(p...)
	}
	return nil
}

func validateBroker(p *problems, cfg BrokerConfig) {
	if !strings.EqualFold(cfg.Type, "kafka") {
		p.add("broker.type", "unsupported broker %q (supported: kafka)", cfg.Type)
		return
	}

	k := cfg.Kafka
	p.check(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one broker is required")
	for i, b := range k.Brokers {
		p.check(b != "", fmt.Sprintf("broker.kafka.brokers[%d]", i), "address cannot be empty")
	}
	p.check(k.GroupID != "", "broker.kafka.group_id", "required")
	p.check(k.EventsTopic != "", "broker.kafka.events_topic", "required")
	p.check(k.PartitionBuffer >= 0, "broker.kafka.partition_buffer", "must not be negative")

	r := k.Retry
	p.check(r.MaxAttempts >= 0, "broker.kafka.retry.max_attempts", "must not be negative")
	p.check(r.InitialInterval >= 0, "broker.kafka.retry.initial_interval", "must not be negative")
	p.check(r.MaxInterval >= 0, "broker.kafka.retry.max_interval", "must not be negative")
	p.check(r.MaxInterval == 0 || r.MaxInterval >= r.InitialInterval,
		"broker.kafka.retry.max_interval", "must be at least initial_interval")
	p.check(r.Multiplier > 0, "broker.kafka.retry.multiplier", "must be positive")
}

func validateDatabase(p *problems, cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		p.check(pg.Host != "", "database.postgres.host", "required")
		p.port("database.postgres.port", pg.Port)
		p.check(pg.User != "", "database.postgres.user", "required")
		p.check(pg.DBName != "", "database.postgres.dbname", "required")
		p.oneOf("database.postgres.sslmode", pg.SSLMode,
			"disable", "allow", "prefer", "require", "verify-ca", "verify-full")
	}

	if r := cfg.Redis; r.Host != "" || r.Port > 0 {
		p.check(r.Host != "", "database.redis.host", "required")
		p.port("database.redis.port", r.Port)
	}

	if m := cfg.MongoDB; m.URI != "" {
		p.check(strings.HasPrefix(m.URI, "mongodb://") || strings.HasPrefix(m.URI, "mongodb+srv://"),
			"database.mongodb.uri", "must start with mongodb:// or mongodb+srv://")
	}
}
