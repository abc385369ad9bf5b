// Package retry runs operations under an exponential backoff policy.
// Errors that pkg/errors classifies as fatal are never retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"homeflow/internal/config"
	pkgerrors "homeflow/pkg/errors"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsedTime of zero means attempts are the only limit.
	MaxElapsedTime time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// PolicyFromConfig fills unset fields from DefaultPolicy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		p.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultPolicy().MaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// Permanent marks err so that Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryNotify(ctx, policy, fn, nil)
}

// RetryNotify is Retry with onRetry called after each failed attempt that
// will be retried, with the delay before the next one.
func RetryNotify(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, next time.Duration)) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		var fatal pkgerrors.FatalError
		if err != nil && errors.As(err, &fatal) && fatal.IsFatal() {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, next time.Duration) { onRetry(attempt, err, next) }
	}
	return backoff.RetryNotify(op, policy.backOff(ctx), notify)
}

// Do is Retry for operations that produce a value.
func Do[T any](ctx context.Context, policy Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, policy, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
