package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"homeflow/internal/constants"
	"homeflow/pkg/models"
)

// Spool holds the events of a batch that could not be written so a later
// retry run can write them again.
type Spool interface {
	Put(ctx context.Context, batchID string, events []models.Event) error
	// Take returns and removes everything spooled for batchID.
	Take(ctx context.Context, batchID string) ([]models.Event, error)
}

type MemorySpool struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func NewMemorySpool() *MemorySpool {
	return &MemorySpool{events: make(map[string][]models.Event)}
}

func (s *MemorySpool) Put(_ context.Context, batchID string, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[batchID] = append(s.events[batchID], events...)
	return nil
}

func (s *MemorySpool) Take(_ context.Context, batchID string) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[batchID]
	delete(s.events, batchID)
	return events, nil
}

func (s *MemorySpool) Len(batchID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[batchID])
}

// spooledEvent keeps the consumer-side fields that Event does not serialize.
type spooledEvent struct {
	Event      models.Event `json:"event"`
	IngestedAt time.Time    `json:"ingested_at"`
	Partition  int          `json:"partition"`
	Offset     int64        `json:"offset"`
}

// RedisSpool stores spooled events as a Redis list per batch.
type RedisSpool struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSpool(client redis.UniversalClient, ttl time.Duration) *RedisSpool {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSpool{client: client, ttl: ttl}
}

func (s *RedisSpool) Put(ctx context.Context, batchID string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, evt := range events {
		raw, err := json.Marshal(spooledEvent{Event: evt, IngestedAt: evt.IngestedAt, Partition: evt.Partition, Offset: evt.Offset})
		if err != nil {
			return fmt.Errorf("failed to encode spooled event %s: %w", evt.ID, err)
		}
		values = append(values, raw)
	}

	key := constants.CacheKeyPrefixSpool + batchID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, values...)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to spool events for batch %s: %w", batchID, err)
	}
	return nil
}

func (s *RedisSpool) Take(ctx context.Context, batchID string) ([]models.Event, error) {
	key := constants.CacheKeyPrefixSpool + batchID

	var values *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		values = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read spool for batch %s: %w", batchID, err)
	}

	raw := values.Val()
	events := make([]models.Event, 0, len(raw))
	for _, r := range raw {
		var se spooledEvent
		if err := json.Unmarshal([]byte(r), &se); err != nil {
			return nil, fmt.Errorf("failed to decode spooled event: %w", err)
		}
		evt := se.Event
		evt.IngestedAt = se.IngestedAt
		evt.Partition = se.Partition
		evt.Offset = se.Offset
		events = append(events, evt)
	}
	return events, nil
}
