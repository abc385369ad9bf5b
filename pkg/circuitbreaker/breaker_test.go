package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
)

func enabled(minRequests uint32) config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  minRequests,
	}
}

func TestFromConfig_DisabledPassesThrough(t *testing.T) {
	b := FromConfig("dedupe-disabled", config.CircuitBreakerConfig{})
	assert.Nil(t, b)
	assert.Equal(t, "disabled", b.StateString())

	v, err := Run(context.Background(), b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRun_OpensAfterFailures(t *testing.T) {
	b := FromConfig("dedupe-open", enabled(2))
	require.NotNil(t, b)

	boom := errors.New("redis down")
	for i := 0; i < 2; i++ {
		_, err := Run(context.Background(), b, func() (bool, error) { return false, boom })
		require.ErrorIs(t, err, boom)
		assert.False(t, IsRejected(err))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, "open", b.StateString())

	called := false
	_, err := Run(context.Background(), b, func() (bool, error) { called = true; return true, nil })
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestRun_StaysClosedBelowMinRequests(t *testing.T) {
	b := FromConfig("generator-min", enabled(5))

	for i := 0; i < 4; i++ {
		_, _ = Run(context.Background(), b, func() (string, error) { return "", errors.New("timeout") })
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, b := range []*Breaker{nil, FromConfig("ctx", enabled(2))} {
		called := false
		_, err := Run(ctx, b, func() (string, error) { called = true; return "x", nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	}
}

func TestRun_NilResult(t *testing.T) {
	b := FromConfig("nil-result", enabled(2))

	v, err := Run(context.Background(), b, func() (*int, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, v)
}
