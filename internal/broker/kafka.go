package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/errors"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/retry"
	"homeflow/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: "unknown"}
}

func (p *KafkaProducer) SetServiceName(name string) {
	p.serviceName = name
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	if env.TraceID == "" {
		env.TraceID = tracing.TraceID(ctx)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := env.Key
	if key == "" {
		key = env.ID
	}

	return p.write(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.InjectHeaders(ctx, nil),
		Time:    time.Now(),
	})
}

func (p *KafkaProducer) write(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, msg.Topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, msg.Topic, "out", len(msg.Value))
	metrics.ObserveKafkaWriteDuration(p.serviceName, msg.Topic, time.Since(start))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaDeadLetter republishes raw records to the DLQ topic with the failure
// reason in headers, keeping the original payload untouched.
type KafkaDeadLetter struct {
	producer    *KafkaProducer
	topic       string
	serviceName string
}

func NewKafkaDeadLetter(producer *KafkaProducer, topic, serviceName string) *KafkaDeadLetter {
	return &KafkaDeadLetter{producer: producer, topic: topic, serviceName: serviceName}
}

func (d *KafkaDeadLetter) PublishDeadLetter(ctx context.Context, rec Record, reason error) error {
	headers := append([]kafka.Header{}, rec.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_reason", Value: []byte(reason.Error())},
		kafka.Header{Key: "dlq_source_topic", Value: []byte(rec.Topic)},
		kafka.Header{Key: "dlq_source_partition", Value: []byte(fmt.Sprintf("%d", rec.Partition))},
		kafka.Header{Key: "dlq_source_offset", Value: []byte(fmt.Sprintf("%d", rec.Offset))},
		kafka.Header{Key: "dlq_timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)

	err := d.producer.write(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(d.serviceName, rec.Topic, "unprocessable").Inc()
	return nil
}

// KafkaRecordSource reads the event stream through a consumer group.
type KafkaRecordSource struct {
	reader *kafka.Reader
	topic  string
	logger logger.Logger
}

func NewKafkaRecordSource(cfg config.KafkaConfig, log logger.Logger) *KafkaRecordSource {
	log.Infow("Creating Kafka reader",
		"topic", cfg.EventsTopic,
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &KafkaRecordSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.EventsTopic,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		topic:  cfg.EventsTopic,
		logger: log,
	}
}

func (s *KafkaRecordSource) Fetch(ctx context.Context) (Record, error) {
	start := time.Now()
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Record{}, err
	}

	metrics.IncKafkaMessagesRead("ingestion", m.Topic)
	metrics.ObserveKafkaMessageSize("ingestion", m.Topic, "in", len(m.Value))
	metrics.ObserveKafkaReadDuration("ingestion", m.Topic, time.Since(start))

	return Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   m.Headers,
		Time:      m.Time,
	}, nil
}

func (s *KafkaRecordSource) Commit(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(records))
	for i, r := range records {
		msgs[i] = kafka.Message{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

func (s *KafkaRecordSource) Close() error {
	return s.reader.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done. Every replica must see every control
// message, so the group ID is suffixed with the service name.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	groupID := c.cfg.GroupID + "-" + c.serviceName
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", groupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}
			metrics.IncKafkaMessagesRead(c.serviceName, topic)

			c.handle(ctx, m, handler, topic)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc, topic string) {
	var env models.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal message",
			"error", err,
			"topic", topic,
			"service_name", c.serviceName,
		)
		_ = c.reader.CommitMessages(ctx, m)
		return
	}

	msgCtx, span := tracing.StartRecordSpan(ctx, "kafka.consume", m.Topic, m.Partition, m.Offset, m.Headers)
	defer span.End()

	if env.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, env.TraceID)
	}
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	if err := c.processMessageWithRetry(msgCtx, env, handler, topic); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries, committing to avoid blocking",
			"error", err,
			"topic", topic,
			"message_id", env.ID,
		)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, env models.Envelope, handler HandlerFunc, topic string) error {
	policy := retry.PolicyFromConfig(c.cfg.Retry)

	return retry.RetryNotify(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return handler(ctx, env)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}
