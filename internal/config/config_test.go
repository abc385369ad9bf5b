package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
broker:
  kafka:
    brokers: ["kafka:9092"]
    group_id: homeflow-test
database:
  postgres:
    host: db
    port: 5432
    user: homeflow
    dbname: homeflow
circuit_breaker:
  enabled: true
  min_requests: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, "kafka", cfg.Broker.Type)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Broker.Kafka.Brokers)
	assert.NotEmpty(t, cfg.Broker.Kafka.EventsTopic)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.FlushInterval)
	assert.Equal(t, "allow", cfg.Ingestion.OnRedisError)
	assert.Equal(t, 0.7, cfg.Approval.SignificanceThreshold)
	assert.Equal(t, "migrations/postgres", cfg.Database.MigrationsDir)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, uint32(4), cfg.CircuitBreaker.MinRequests)
	assert.True(t, cfg.Management.RateLimit.Enabled)
}

func TestLoad_EnvOverridesBrokers(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DATABASE_POSTGRES_HOST", "pg.internal")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "pg.internal", cfg.Database.Postgres.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Filtering.WindowBackend)
	assert.Equal(t, "automation_backups", cfg.Database.MongoDB.BackupCollection)
	assert.Equal(t, "parentbased_traceidratio", cfg.Tracing.Sampler.Type)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
		Broker: BrokerConfig{Type: "kafka", Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			GroupID:     "g",
			EventsTopic: "home-events",
			Retry:       RetryConfig{Multiplier: 2},
		}},
		Ingestion: IngestionConfig{BatchSize: 10, FlushInterval: time.Second},
		Approval:  ApprovalConfig{SignificanceThreshold: 0.7},
	}
}

func TestValidateStatic_Valid(t *testing.T) {
	assert.NoError(t, ValidateStatic(validConfig()))
}

func TestValidateStatic_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Ingestion.OnRedisError = "retry"
	cfg.Approval.SignificanceThreshold = 1.5
	cfg.Lifecycle.Platform.Enabled = true

	err := ValidateStatic(cfg)
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		fields = append(fields, ve.Field)
	}
	assert.ElementsMatch(t, []string{
		"server.port",
		"ingestion.on_redis_error",
		"approval.significance_threshold",
		"lifecycle.platform.base_url",
	}, fields)
}

func TestValidateStatic_Sections(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(c *Config)
		field string
	}{
		{"unknown broker", func(c *Config) { c.Broker.Type = "nats" }, "broker.type"},
		{"empty broker address", func(c *Config) { c.Broker.Kafka.Brokers = []string{""} }, "broker.kafka.brokers[0]"},
		{"retry interval order", func(c *Config) {
			c.Broker.Kafka.Retry.InitialInterval = time.Minute
			c.Broker.Kafka.Retry.MaxInterval = time.Second
		}, "broker.kafka.retry.max_interval"},
		{"postgres sslmode", func(c *Config) {
			c.Database.Postgres = PostgresConfig{Host: "db", Port: 5432, User: "u", DBName: "d", SSLMode: "sometimes"}
		}, "database.postgres.sslmode"},
		{"mongo scheme", func(c *Config) { c.Database.MongoDB.URI = "http://mongo" }, "database.mongodb.uri"},
		{"window backend", func(c *Config) { c.Filtering.WindowBackend = "memcached" }, "filtering.window_backend"},
		{"suggestion model", func(c *Config) { c.Suggestion.Enabled = true }, "suggestion.primary.model"},
		{"rate limit", func(c *Config) { c.Management.RateLimit = RateLimitConfig{Enabled: true, Burst: 1} }, "management.rate_limit.rps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mut(cfg)
			err := ValidateStatic(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
