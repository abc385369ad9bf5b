package ingestion

import (
	"context"
	"fmt"
	"strconv"

	"homeflow/internal/batch"
	"homeflow/internal/broker"
	"homeflow/internal/constants"
	"homeflow/internal/filtering"
	"homeflow/pkg/logging"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
	"homeflow/pkg/tracing"
)

// partitionWorker owns the open batch of one partition. It is only ever
// used from its own goroutine.
type partitionWorker struct {
	c         *Coordinator
	partition int

	active  *batch.Batch
	buffer  []models.Event
	pending []broker.Record

	// events accounted to the open batch, marked seen once it flushes
	accounted []models.Event
	inflight  map[string]struct{}
}

func newPartitionWorker(c *Coordinator, partition int) *partitionWorker {
	return &partitionWorker{c: c, partition: partition, inflight: make(map[string]struct{})}
}

func (w *partitionWorker) run(ctx context.Context, queue <-chan broker.Record) error {
	ctx = logging.WithPartition(ctx, strconv.Itoa(w.partition))

	ticker := w.c.clock.NewTicker(w.c.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case rec := <-queue:
			metrics.SetPartitionQueueSize(w.partition, len(queue))
			if err := w.handle(ctx, rec); err != nil {
				return fmt.Errorf("partition %d: %w", w.partition, err)
			}
		case <-ticker.Chan():
			if err := w.flush(ctx); err != nil {
				return fmt.Errorf("partition %d: %w", w.partition, err)
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(logging.WithPartition(context.Background(), strconv.Itoa(w.partition)), constants.ShutdownTimeout)
			defer cancel()
			if err := w.flush(flushCtx); err != nil {
				w.c.logger.ErrorwCtx(flushCtx, "Final flush failed", "error", err)
			}
			return ctx.Err()
		}
	}
}

// handle accounts for one record. The record's offset is committed with the
// next flush.
func (w *partitionWorker) handle(ctx context.Context, rec broker.Record) error {
	c := w.c
	w.pending = append(w.pending, rec)

	ctx, span := tracing.StartRecordSpan(ctx, "ingestion.handle", rec.Topic, rec.Partition, rec.Offset, rec.Headers)
	defer span.End()

	evt, err := models.DecodeEvent(rec.Value)
	if err != nil {
		c.deadLetter(ctx, rec, err)
		return nil
	}

	now := c.clock.Now().UTC()
	evt.IngestedAt = now
	evt.Partition = rec.Partition
	evt.Offset = rec.Offset
	ctx = logging.WithEventID(ctx, evt.ID)

	dup, err := c.dedupe.Seen(ctx, evt)
	if err != nil {
		metrics.IncIngestionEvents("dedupe_error")
		c.deadLetter(ctx, rec, err)
		return nil
	}
	if _, ok := w.inflight[dedupeKey(evt)]; ok {
		dup = true
	}
	if dup {
		metrics.IncIngestionEvents("duplicate")
		c.logger.DebugwCtx(ctx, "Duplicate event dropped")
		return nil
	}

	b, err := w.batch(ctx, rec.Topic)
	if err != nil {
		return err
	}
	b.BatchSize++
	w.inflight[dedupeKey(evt)] = struct{}{}
	w.accounted = append(w.accounted, evt)

	decision := c.decider.Decide(ctx, evt)
	c.publishDecision(ctx, evt, decision, b.ID)

	if decision.Action.Persists() {
		w.buffer = append(w.buffer, evt)
		metrics.IncIngestionEvents("accepted")
	} else {
		if decision.Action == filtering.ActionLogOnly {
			c.logger.InfowCtx(ctx, "Event logged and not stored",
				"event_type", evt.EventType,
				"entity_id", evt.EntityID,
				"rule_id", decision.RuleID,
			)
		}
		metrics.IncIngestionEvents("filtered")
		if err := b.RecordFiltered(); err != nil {
			return err
		}
	}

	if decision.Action == filtering.ActionPriority || b.BatchSize >= c.batchSize() {
		return w.flush(ctx)
	}
	return nil
}

func (w *partitionWorker) batch(ctx context.Context, source string) (*batch.Batch, error) {
	if w.active != nil {
		return w.active, nil
	}

	now := w.c.clock.Now().UTC()
	b := batch.New(batch.TypeRealTime, w.c.maxRetries(), now)
	b.Source = source
	b.Partition = w.partition
	if err := b.StartProcessing(now); err != nil {
		return nil, err
	}
	if err := w.c.saveBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save new batch: %w", err)
	}

	w.active = b
	metrics.IncBatches(string(b.Status))
	return b, nil
}

// flush writes the buffered events, settles and saves the open batch, marks
// its events seen, then commits every record accounted for since the last
// flush.
func (w *partitionWorker) flush(ctx context.Context) error {
	c := w.c
	if b := w.active; b != nil {
		ctx := logging.WithBatchID(ctx, b.ID)
		start := c.clock.Now()

		failed, err := w.persist(ctx, b)
		if err != nil {
			return err
		}
		if err := c.settle(ctx, b, failed, "events could not be written", c.clock.Now().UTC()); err != nil {
			return err
		}
		if err := c.saveBatch(ctx, b); err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}
		c.publishSummary(ctx, b)
		w.markSeen(ctx)

		metrics.ObserveBatchFlush(c.clock.Since(start), string(b.Status))
		c.logger.InfowCtx(ctx, "Batch flushed",
			"status", b.Status,
			"batch_size", b.BatchSize,
			"success_count", b.SuccessCount,
			"error_count", b.ErrorCount,
			"filtered_count", b.FilteredCount,
			"filter_effectiveness", b.FilterEffectiveness,
		)
		w.active = nil
		w.buffer = nil
	}
	return w.commit(ctx)
}

func (w *partitionWorker) persist(ctx context.Context, b *batch.Batch) ([]models.Event, error) {
	c := w.c
	if len(w.buffer) == 0 {
		return nil, nil
	}

	err := c.store.InsertBatch(ctx, b.ID, w.buffer)
	if err == nil {
		for range w.buffer {
			if err := b.RecordOutcome(true); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	c.logger.WarnwCtx(ctx, "Bulk event insert failed, falling back to direct writes",
		"events", len(w.buffer),
		"error", err,
	)
	metrics.FallbackUsageTotal.WithLabelValues("ingestion", "direct_write", "bulk_insert_failed").Inc()

	var failed []models.Event
	for _, evt := range w.buffer {
		werr := c.store.Insert(ctx, b.ID, evt)
		if werr != nil {
			c.logger.ErrorwCtx(logging.WithEventID(ctx, evt.ID), "Direct event write failed", "error", werr)
			failed = append(failed, evt)
		}
		if err := b.RecordOutcome(werr == nil); err != nil {
			return nil, err
		}
	}
	return failed, nil
}

func (w *partitionWorker) markSeen(ctx context.Context) {
	if err := w.c.dedupe.Mark(ctx, w.accounted...); err != nil {
		w.c.logger.WarnwCtx(ctx, "Failed to mark flushed events as seen", "events", len(w.accounted), "error", err)
	}
	w.accounted = nil
	clear(w.inflight)
}

func (w *partitionWorker) commit(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.c.source.Commit(ctx, w.pending...); err != nil {
		// a later commit covers these offsets
		w.c.logger.WarnwCtx(ctx, "Failed to commit offsets", "records", len(w.pending), "error", err)
	}
	w.pending = nil
	return nil
}
