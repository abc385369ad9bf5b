package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/batch"
	"homeflow/internal/broker"
	"homeflow/internal/config"
	"homeflow/internal/filtering"
	"homeflow/internal/ingestion"
	"homeflow/internal/management"
)

const pipelineTopic = "home-events-test"

func produceEvents(t *testing.T, brokers []string, topic string, values [][]byte) {
	t.Helper()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	msgs := make([]kafka.Message, len(values))
	for i, v := range values {
		msgs[i] = kafka.Message{Key: []byte("conn-1"), Value: v}
	}

	// The first write can race topic auto-creation.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.WriteMessages(ctx, msgs...) == nil
	}, eventuallyTimeout, time.Second)
}

func TestIngestionPipeline_KafkaToPostgres(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, Needs{Postgres: true, Redis: true, Kafka: true})
	log := createTestLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgmtRepo := management.NewRepository(infra.PostgresDB)
	createTestConnection(t, mgmtRepo, "conn-1", "owner-1")
	block := createTestFilterRule("owner-1", "drop_motion", filtering.RuleTypeExclude, filtering.ActionBlock, 1, true)
	block.Condition = filtering.Condition{EventTypes: []string{"motion_detected"}}
	require.NoError(t, mgmtRepo.CreateFilterRule(ctx, block))
	allow := createTestFilterRule("owner-1", "keep_state", filtering.RuleTypeInclude, filtering.ActionAllow, 2, true)
	allow.Condition = filtering.Condition{EventTypes: []string{"state_changed"}}
	require.NoError(t, mgmtRepo.CreateFilterRule(ctx, allow))

	evaluator, err := filtering.NewEvaluator(log)
	require.NoError(t, err)
	filter := filtering.NewService(filtering.NewRepository(infra.PostgresDB), evaluator, createTestFilteringConfig(), log)
	require.NoError(t, filter.ReloadRules(ctx))

	first := createTestEvent("evt-1", "conn-1", "state_changed", "light.kitchen")
	second := createTestEvent("evt-2", "conn-1", "state_changed", "light.hall")
	motion := createTestEvent("evt-3", "conn-1", "motion_detected", "binary_sensor.hall")

	var values [][]byte
	for _, evt := range []interface{}{first, second, motion, first} {
		b, err := json.Marshal(evt)
		require.NoError(t, err)
		values = append(values, b)
	}
	values = append(values, []byte("not json"))
	produceEvents(t, infra.KafkaBrokers, pipelineTopic, values)

	ingCfg := config.IngestionConfig{
		BatchSize:              3,
		FlushInterval:          200 * time.Millisecond,
		MaxRetries:             3,
		RetryScanInterval:      time.Minute,
		DedupeWindowSize:       100,
		DedupeTTLSeconds:       60,
		OnRedisError:           "allow",
		DirectWriteMaxAttempts: 2,
	}
	source := broker.NewKafkaRecordSource(config.KafkaConfig{
		Brokers:     infra.KafkaBrokers,
		GroupID:     "ingestion-test",
		EventsTopic: pipelineTopic,
	}, log)
	defer source.Close()

	batches := batch.NewRepository(infra.PostgresDB)
	coordinator := ingestion.NewCoordinator(
		source,
		filter,
		ingestion.NewPostgresEventStore(infra.PostgresDB, ingCfg.DirectWriteMaxAttempts),
		batches,
		ingCfg,
		log,
		ingestion.WithDeduplicator(ingestion.ChainDedupe{
			ingestion.NewMemoryDedupe(ingCfg.DedupeWindowSize),
			ingestion.NewRedisDedupe(infra.RedisClient, ingCfg, config.CircuitBreakerConfig{}, log),
		}),
		ingestion.WithSpool(ingestion.NewRedisSpool(infra.RedisClient, time.Hour)),
	)

	done := make(chan error, 1)
	go func() { done <- coordinator.Run(ctx) }()

	require.Eventually(t, func() bool {
		var n int
		err := infra.PostgresDB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE connection_id = $1`, "conn-1").Scan(&n)
		return err == nil && n == 2
	}, eventuallyTimeout, eventuallyTick)

	var motionRows int
	require.NoError(t, infra.PostgresDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE id = $1`, motion.ID).Scan(&motionRows))
	assert.Zero(t, motionRows)

	require.Eventually(t, func() bool {
		list, err := batches.List(ctx, batch.Filter{Status: batch.StatusCompleted})
		if err != nil {
			return false
		}
		var success, filtered int
		for _, b := range list {
			success += b.SuccessCount
			filtered += b.FilteredCount
		}
		return success == 2 && filtered == 1
	}, eventuallyTimeout, eventuallyTick)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}
