package ingestion

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"homeflow/internal/batch"
	"homeflow/internal/broker"
	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/filtering"
	"homeflow/internal/logger"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/retry"
)

// Decider is the filtering step; *filtering.Service satisfies it.
type Decider interface {
	Decide(ctx context.Context, evt models.Event) filtering.Decision
}

// Publisher is satisfied by broker.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

// Topics names where decisions and batch summaries are published. An empty
// topic disables that stream.
type Topics struct {
	Decisions string
	Batches   string
}

// Coordinator turns the partitioned event stream into batches: one worker
// per partition, serial within a partition and parallel across them.
type Coordinator struct {
	source    broker.RecordSource
	decider   Decider
	dedupe    Deduplicator
	store     EventStore
	spool     Spool
	batches   batch.Repository
	publisher Publisher
	topics    Topics
	dlq       broker.DeadLetterPublisher
	cfg       config.IngestionConfig
	queueSize int
	clock     clockwork.Clock
	save      retry.Policy
	logger    logger.Logger
}

type Option func(*Coordinator)

func WithDeduplicator(d Deduplicator) Option { return func(c *Coordinator) { c.dedupe = d } }

func WithSpool(s Spool) Option { return func(c *Coordinator) { c.spool = s } }

func WithDeadLetter(d broker.DeadLetterPublisher) Option { return func(c *Coordinator) { c.dlq = d } }

func WithClock(clock clockwork.Clock) Option { return func(c *Coordinator) { c.clock = clock } }

func WithQueueSize(n int) Option { return func(c *Coordinator) { c.queueSize = n } }

func WithPublisher(p Publisher, topics Topics) Option {
	return func(c *Coordinator) {
		c.publisher = p
		c.topics = topics
	}
}

// WithSavePolicy sets the retry policy for persisting batch state.
func WithSavePolicy(p retry.Policy) Option { return func(c *Coordinator) { c.save = p } }

func NewCoordinator(source broker.RecordSource, decider Decider, store EventStore, batches batch.Repository, cfg config.IngestionConfig, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:    source,
		decider:   decider,
		store:     store,
		batches:   batches,
		cfg:       cfg,
		queueSize: 256,
		clock:     clockwork.NewRealClock(),
		save:      retry.DefaultPolicy(),
		logger:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dedupe == nil {
		c.dedupe = NewMemoryDedupe(cfg.DedupeWindowSize)
	}
	if c.spool == nil {
		c.spool = NewMemorySpool()
	}
	return c
}

func (c *Coordinator) batchSize() int {
	if c.cfg.BatchSize <= 0 {
		return constants.DefaultBatchSize
	}
	return c.cfg.BatchSize
}

func (c *Coordinator) flushInterval() time.Duration {
	if c.cfg.FlushInterval <= 0 {
		return 5 * time.Second
	}
	return c.cfg.FlushInterval
}

func (c *Coordinator) maxRetries() int {
	if c.cfg.MaxRetries < 0 {
		return constants.DefaultMaxRetries
	}
	return c.cfg.MaxRetries
}

// Run reads the source until ctx is cancelled or a worker fails. Workers
// flush their open batch before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.dispatch(gctx, g)
	})
	return g.Wait()
}

func (c *Coordinator) dispatch(ctx context.Context, g *errgroup.Group) error {
	queues := make(map[int]chan broker.Record)

	c.logger.InfowCtx(ctx, "Event ingestion started",
		"batch_size", c.batchSize(),
		"flush_interval", c.flushInterval(),
	)

	for {
		rec, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorwCtx(ctx, "Failed to fetch event", "error", err)
			select {
			case <-c.clock.After(time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		queue, ok := queues[rec.Partition]
		if !ok {
			queue = make(chan broker.Record, c.queueSize)
			queues[rec.Partition] = queue
			w := newPartitionWorker(c, rec.Partition)
			g.Go(func() error {
				return w.run(ctx, queue)
			})
		}

		select {
		case queue <- rec:
			metrics.SetPartitionQueueSize(rec.Partition, len(queue))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunRetry writes the spooled events of a RETRYING batch again. It
// satisfies batch.Runner.
func (c *Coordinator) RunRetry(ctx context.Context, b *batch.Batch) error {
	if err := b.StartProcessing(c.clock.Now().UTC()); err != nil {
		return err
	}
	events, err := c.spool.Take(ctx, b.ID)
	if err != nil {
		return err
	}
	if len(events) == 0 && b.ErrorCount > 0 {
		return c.abandon(ctx, b)
	}

	var failed []models.Event
	for i, evt := range events {
		if err := c.store.Insert(ctx, b.ID, evt); err != nil {
			c.logger.WarnwCtx(logging.WithEventID(ctx, evt.ID), "Retry write failed", "error", err)
			failed = append(failed, evt)
			continue
		}
		if err := b.RecordRecovered(); err != nil {
			c.respool(ctx, b, append(failed, events[i+1:]...))
			return err
		}
	}

	if err := c.settle(ctx, b, failed, "events could not be written on retry", c.clock.Now().UTC()); err != nil {
		return err
	}
	if err := c.saveBatch(ctx, b); err != nil {
		return err
	}
	c.publishSummary(ctx, b)
	return nil
}

// abandon fails a retrying batch whose spooled events are gone. The loss is
// final: the batch is not scheduled again.
func (c *Coordinator) abandon(ctx context.Context, b *batch.Batch) error {
	now := c.clock.Now().UTC()
	detail := batch.ErrorDetail{
		Message:    "spooled events for retry are missing",
		Code:       "SPOOL_EMPTY",
		OccurredAt: now,
	}
	if b.ErrorDetail != nil {
		detail.FailedEventIDs = b.ErrorDetail.FailedEventIDs
	}
	if err := b.Fail(detail, now); err != nil {
		return err
	}
	metrics.IncBatches(string(b.Status))
	metrics.IncBatchFatalFailure()
	c.logger.ErrorwCtx(ctx, "Retry batch lost its spooled events",
		"error_count", b.ErrorCount,
		"retry_count", b.RetryCount,
	)
	if err := c.saveBatch(ctx, b); err != nil {
		return err
	}
	c.publishSummary(ctx, b)
	return nil
}

func (c *Coordinator) respool(ctx context.Context, b *batch.Batch, events []models.Event) {
	if len(events) == 0 {
		return
	}
	if err := c.spool.Put(ctx, b.ID, events); err != nil {
		metrics.IncBatchFatalFailure()
		c.logger.ErrorwCtx(ctx, "Failed to return events to the retry spool", "events", len(events), "error", err)
	}
}

// settle closes a RUNNING batch from its counters and, when events failed,
// spools them and schedules the next retry.
func (c *Coordinator) settle(ctx context.Context, b *batch.Batch, failed []models.Event, message string, now time.Time) error {
	ids := make([]string, 0, len(failed))
	for _, evt := range failed {
		ids = append(ids, evt.ID)
	}
	detail := batch.ErrorDetail{
		Message:        message,
		Code:           "EVENT_WRITE_FAILED",
		FailedEventIDs: ids,
		OccurredAt:     now,
	}
	if err := b.Settle(detail, now); err != nil {
		return err
	}
	metrics.IncBatches(string(b.Status))

	if len(failed) == 0 {
		return nil
	}
	if !b.CanRetry() {
		metrics.IncBatchFatalFailure()
		c.logger.ErrorwCtx(ctx, "Batch retries exhausted",
			"status", b.Status,
			"retry_count", b.RetryCount,
			"failed_events", len(failed),
		)
		return nil
	}
	if err := c.spool.Put(ctx, b.ID, failed); err != nil {
		metrics.IncBatchFatalFailure()
		c.logger.ErrorwCtx(ctx, "Failed to spool events for retry, batch will not be retried",
			"failed_events", len(failed),
			"error", err,
		)
		return nil
	}
	if err := b.ScheduleRetry(now); err != nil {
		return err
	}

	metrics.IncBatchRetryScheduled()
	metrics.IncBatches(string(b.Status))
	c.logger.WarnwCtx(ctx, "Batch retry scheduled",
		"retry_count", b.RetryCount,
		"next_retry_at", b.NextRetryAt,
		"failed_events", len(failed),
	)
	return nil
}

func (c *Coordinator) saveBatch(ctx context.Context, b *batch.Batch) error {
	return retry.Retry(ctx, c.save, func() error {
		return c.batches.Save(ctx, b)
	})
}

func (c *Coordinator) publishDecision(ctx context.Context, evt models.Event, d filtering.Decision, batchID string) {
	if c.publisher == nil || c.topics.Decisions == "" || !c.cfg.PublishDecisions {
		return
	}
	env := models.NewEnvelope(models.TypeFilterDecision, "ingestion-service", evt.ConnectionID, map[string]interface{}{
		"event_id":      evt.ID,
		"connection_id": evt.ConnectionID,
		"event_type":    evt.EventType,
		"entity_id":     evt.EntityID,
		"action":        string(d.Action),
		"rule_id":       d.RuleID,
		"important":     d.Important,
		"throttled":     d.Throttled,
		"batch_id":      batchID,
	})
	env.TraceID = logging.GetTraceID(ctx)
	if err := c.publisher.Publish(ctx, c.topics.Decisions, env); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to publish filter decision", "error", err)
	}
}

func (c *Coordinator) publishSummary(ctx context.Context, b *batch.Batch) {
	if c.publisher == nil || c.topics.Batches == "" {
		return
	}
	msgType := models.TypeBatchCompleted
	if b.Status != batch.StatusCompleted {
		msgType = models.TypeBatchFailed
	}
	payload := map[string]interface{}{
		"batch_id":             b.ID,
		"status":               string(b.Status),
		"partition":            b.Partition,
		"batch_size":           b.BatchSize,
		"processed_count":      b.ProcessedCount,
		"success_count":        b.SuccessCount,
		"error_count":          b.ErrorCount,
		"filtered_count":       b.FilteredCount,
		"filter_effectiveness": b.FilterEffectiveness,
		"success_rate":         b.SuccessRate(),
		"processing_time_ms":   b.ProcessingTimeMs,
		"retry_count":          b.RetryCount,
	}
	if b.NextRetryAt != nil {
		payload["next_retry_at"] = b.NextRetryAt.Format(time.RFC3339)
	}
	if err := c.publisher.Publish(ctx, c.topics.Batches, models.NewEnvelope(msgType, "ingestion-service", b.ID, payload)); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to publish batch summary", "error", err)
	}
}

func (c *Coordinator) deadLetter(ctx context.Context, rec broker.Record, reason error) {
	metrics.IncIngestionEvents("dead_letter")
	if c.dlq == nil {
		c.logger.ErrorwCtx(ctx, "Dropping event, no dead letter queue configured",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", reason,
		)
		return
	}
	if err := c.dlq.PublishDeadLetter(ctx, rec, reason); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to publish event to dead letter queue",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}
	c.logger.WarnwCtx(ctx, "Event sent to dead letter queue",
		"partition", rec.Partition,
		"offset", rec.Offset,
		"reason", reason,
	)
}
