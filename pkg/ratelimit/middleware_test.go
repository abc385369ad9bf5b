package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"homeflow/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RPS: 5, MaxAge: 60})
	assert.Equal(t, 5.0, cfg.RPS)
	assert.Equal(t, 20, cfg.Burst)
	assert.Equal(t, time.Minute, cfg.MaxAge)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
}

func TestStore_BurstThenLimited(t *testing.T) {
	s := NewStore(Config{RPS: 1, Burst: 2, MaxAge: time.Minute})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ok, _ := s.Allow("a")
	assert.True(t, ok)
	ok, remaining := s.Allow("a")
	assert.True(t, ok)
	assert.Zero(t, remaining)
	ok, _ = s.Allow("a")
	assert.False(t, ok)

	ok, _ = s.Allow("b")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(time.Second)
	ok, _ = s.Allow("a")
	assert.True(t, ok)
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore(Config{RPS: 1, Burst: 1, MaxAge: time.Minute})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Allow("old")
	now = now.Add(2 * time.Minute)
	s.Allow("fresh")

	assert.Equal(t, 1, s.Cleanup())
	assert.Equal(t, 1, s.Len())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewStore(Config{RPS: 1, Burst: 1, MaxAge: time.Minute})

	r := gin.New()
	r.Use(Middleware(store, ActorOrIP))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Actor", actor)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("alice").Code)
	limited := send("alice")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, send("bob").Code)
}
