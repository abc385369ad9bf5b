package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/circuitbreaker"
	"homeflow/pkg/metrics"
	"homeflow/pkg/models"
)

// Deduplicator remembers delivered events. Seen only checks; events are
// marked once their batch has been written, so an event whose batch never
// flushed is processed again on redelivery.
type Deduplicator interface {
	Seen(ctx context.Context, evt models.Event) (bool, error)
	Mark(ctx context.Context, events ...models.Event) error
}

func dedupeKey(evt models.Event) string {
	return evt.ConnectionID + ":" + evt.ID
}

// MemoryDedupe remembers the most recent event IDs in a fixed-size ring.
type MemoryDedupe struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	ring  []string
	next  int
	count int
}

func NewMemoryDedupe(size int) *MemoryDedupe {
	if size <= 0 {
		size = 10000
	}
	return &MemoryDedupe{
		seen: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

func (d *MemoryDedupe) Seen(_ context.Context, evt models.Event) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[dedupeKey(evt)]
	return ok, nil
}

func (d *MemoryDedupe) Mark(_ context.Context, events ...models.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, evt := range events {
		key := dedupeKey(evt)
		if _, ok := d.seen[key]; ok {
			continue
		}
		if d.count == len(d.ring) {
			delete(d.seen, d.ring[d.next])
		} else {
			d.count++
		}
		d.ring[d.next] = key
		d.next = (d.next + 1) % len(d.ring)
		d.seen[key] = struct{}{}
	}
	return nil
}

func (d *MemoryDedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDedupe keeps seen event IDs in Redis so duplicates are caught across
// restarts and workers. Calls go through a circuit breaker; onError decides
// whether an event is let through ("allow") or rejected ("deny") when Redis
// is unavailable.
type RedisDedupe struct {
	client  redis.UniversalClient
	breaker *circuitbreaker.Breaker
	ttl     time.Duration
	onError string
	logger  logger.Logger
}

func NewRedisDedupe(client redis.UniversalClient, cfg config.IngestionConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *RedisDedupe {
	ttl := time.Duration(cfg.DedupeTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	onError := cfg.OnRedisError
	if onError == "" {
		onError = constants.FallbackAllow
	}
	return &RedisDedupe{
		client:  client,
		breaker: circuitbreaker.FromConfig("redis-dedupe", cbCfg),
		ttl:     ttl,
		onError: onError,
		logger:  log,
	}
}

func (d *RedisDedupe) Seen(ctx context.Context, evt models.Event) (bool, error) {
	key := constants.CacheKeyPrefixDedupe + dedupeKey(evt)

	start := time.Now()
	n, err := circuitbreaker.Run(ctx, d.breaker, func() (int64, error) {
		return d.client.Exists(ctx, key).Result()
	})
	metrics.ObserveDatabaseQueryDuration("ingestion", "redis", "dedupe", time.Since(start))

	if err != nil {
		metrics.IncDatabaseQuery("ingestion", "redis", "dedupe", "error")
		reason := "redis_error"
		if circuitbreaker.IsRejected(err) {
			reason = "circuit_open"
		}
		if d.onError == constants.FallbackAllow {
			metrics.FallbackUsageTotal.WithLabelValues("ingestion", "dedupe_allow_on_error", reason).Inc()
			d.logger.WarnwCtx(ctx, "Redis error during dedupe check, letting event through", "error", err)
			return false, nil
		}
		metrics.FallbackUsageTotal.WithLabelValues("ingestion", "dedupe_deny_on_error", reason).Inc()
		return false, fmt.Errorf("redis dedupe check for event %s: %w", evt.ID, err)
	}

	metrics.IncDatabaseQuery("ingestion", "redis", "dedupe", "success")
	return n > 0, nil
}

// Mark records the events in one pipeline. An unmarked event is only
// stored again on redelivery, which the event insert ignores.
func (d *RedisDedupe) Mark(ctx context.Context, events ...models.Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	_, err := circuitbreaker.Run(ctx, d.breaker, func() ([]redis.Cmder, error) {
		return d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			now := time.Now().Unix()
			for _, evt := range events {
				pipe.Set(ctx, constants.CacheKeyPrefixDedupe+dedupeKey(evt), now, d.ttl)
			}
			return nil
		})
	})
	metrics.ObserveDatabaseQueryDuration("ingestion", "redis", "dedupe_mark", time.Since(start))

	if err != nil {
		metrics.IncDatabaseQuery("ingestion", "redis", "dedupe_mark", "error")
		return fmt.Errorf("redis dedupe mark for %d events: %w", len(events), err)
	}
	metrics.IncDatabaseQuery("ingestion", "redis", "dedupe_mark", "success")
	return nil
}

// ChainDedupe asks each deduplicator in order and stops at the first one
// that has seen the event. Mark records in all of them.
type ChainDedupe []Deduplicator

func (c ChainDedupe) Seen(ctx context.Context, evt models.Event) (bool, error) {
	for _, d := range c {
		seen, err := d.Seen(ctx, evt)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

func (c ChainDedupe) Mark(ctx context.Context, events ...models.Event) error {
	var errs []error
	for _, d := range c {
		if err := d.Mark(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
