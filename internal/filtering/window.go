package filtering

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"homeflow/internal/constants"
)

// WindowCounter counts occurrences per key inside a trailing time window.
type WindowCounter interface {
	// Hit records one occurrence at the given instant and returns how many
	// occurrences, including this one, fall inside (at-window, at].
	Hit(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
}

func windowKey(ruleID, entityID string) string {
	return ruleID + "|" + entityID
}

// memoryWindowSweepEvery is how many hits pass between sweeps of idle keys.
const memoryWindowSweepEvery = 256

type windowHits struct {
	times  []time.Time
	window time.Duration
}

type MemoryWindow struct {
	mu    sync.Mutex
	hits  map[string]*windowHits
	calls int
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{hits: make(map[string]*windowHits)}
}

func (w *MemoryWindow) Hit(_ context.Context, key string, at time.Time, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.hits[key]
	if !ok {
		h = &windowHits{}
		w.hits[key] = h
	}
	h.window = window

	cutoff := at.Add(-window)
	kept := h.times[:0]
	for _, ts := range h.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.times = append(kept, at)
	count := len(h.times)

	w.calls++
	if w.calls%memoryWindowSweepEvery == 0 {
		w.sweep(at)
	}
	return count, nil
}

// Sweep drops keys whose newest hit has left their window.
func (w *MemoryWindow) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweep(now)
}

func (w *MemoryWindow) sweep(now time.Time) int {
	removed := 0
	for key, h := range w.hits {
		if len(h.times) == 0 || !h.times[len(h.times)-1].After(now.Add(-h.window)) {
			delete(w.hits, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// RedisWindow keeps one sorted set per key scored by unix nanoseconds so
// several ingestion replicas share the same counters.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindow(client redis.UniversalClient) *RedisWindow {
	return &RedisWindow{client: client, prefix: constants.CacheKeyPrefixWindow}
}

func (w *RedisWindow) Hit(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	redisKey := w.prefix + key
	now := at.UnixNano()
	cutoff := strconv.FormatInt(at.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: uuid.New().String()})
		card = pipe.ZCard(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis window update failed: %w", err)
	}

	return int(card.Val()), nil
}
