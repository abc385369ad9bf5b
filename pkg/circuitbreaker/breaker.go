// Package circuitbreaker guards calls to optional dependencies such as the
// Redis dedupe store and the suggestion generators.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"homeflow/internal/config"
	"homeflow/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultWindow       = time.Minute
	defaultOpenTimeout  = time.Minute
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

// Breaker is a gobreaker.CircuitBreaker that reports its state to
// Prometheus. A nil *Breaker lets every call through.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// FromConfig returns nil when circuit breaking is disabled.
func FromConfig(name string, cfg config.CircuitBreakerConfig) *Breaker {
	if !cfg.Enabled {
		return nil
	}
	return New(name, settings(name, cfg))
}

func settings(name string, cfg config.CircuitBreakerConfig) gobreaker.Settings {
	s := gobreaker.Settings{
		Name:        name,
		MaxRequests: defaultMaxRequests,
		Interval:    defaultWindow,
		Timeout:     defaultOpenTimeout,
	}
	if cfg.MaxRequests > 0 {
		s.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		s.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		s.Timeout = cfg.Timeout
	}

	minRequests, ratio := uint32(defaultMinRequests), defaultFailureRatio
	if cfg.MinRequests > 0 {
		minRequests = cfg.MinRequests
	}
	if cfg.FailureRatio > 0 {
		ratio = cfg.FailureRatio
	}
	s.ReadyToTrip = func(c gobreaker.Counts) bool {
		return c.Requests >= minRequests && float64(c.TotalFailures)/float64(c.Requests) >= ratio
	}
	return s
}

// New wraps s with state metrics.
func New(name string, s gobreaker.Settings) *Breaker {
	s.Name = name
	next := s.OnStateChange
	s.OnStateChange = func(name string, from, to gobreaker.State) {
		setStateMetric(name, to)
		if next != nil {
			next(name, from, to)
		}
	}
	b := &Breaker{cb: gobreaker.NewCircuitBreaker(s)}
	setStateMetric(name, b.cb.State())
	return b
}

// Run calls fn through b. Calls rejected by an open breaker return an
// error for which IsRejected reports true.
func Run[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if b == nil {
		return fn()
	}

	out, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	b.observe(err)
	if err != nil {
		if IsRejected(err) {
			return zero, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return zero, err
	}

	v, ok := out.(T)
	if !ok && out != nil {
		return zero, fmt.Errorf("%s: unexpected result type %T", b.Name(), out)
	}
	return v, nil
}

// IsRejected reports whether err came from an open or saturated breaker
// rather than from the guarded call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// StateString reports "disabled" for a nil breaker.
func (b *Breaker) StateString() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

func (b *Breaker) observe(err error) {
	name := b.cb.Name()
	metrics.CircuitBreakerRequests.WithLabelValues(name, b.cb.State().String()).Inc()
	if err != nil && !IsRejected(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
	}
}

func setStateMetric(name string, state gobreaker.State) {
	v := 0.0
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
