package resilience

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
)

// Gate errors. Both classify as transient.
var (
	ErrCircuitOpen = apperrors.New(apperrors.CodeCircuitOpen, "circuit breaker open")
	ErrRateLimited = apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded")
)

// Do runs fn behind l, retrying retryable failures with backoff. A call
// the gate refuses is not retried.
func Do[T any](ctx context.Context, l *Limiter, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.IsRetryable
	var gated bool
	cfg.IsRetryable = func(err error) bool { return !gated && retryable(err) }

	var result T
	err := Retry(ctx, cfg, func() error {
		if err := l.admit(ctx, cfg.MaxWait); err != nil {
			gated = true
			return err
		}
		r, err := fn(ctx)
		l.Record(err == nil)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// admit waits for a call slot. A full window is waited out for at most
// maxWait; an open breaker fails fast.
func (l *Limiter) admit(ctx context.Context, maxWait time.Duration) error {
	allowed, wait := l.CanCall()
	if allowed {
		return nil
	}
	if l.breaker.State() == Open {
		return ErrCircuitOpen
	}
	if wait > maxWait {
		return ErrRateLimited
	}
	slog.Debug("rate limited, waiting", "limiter", l.cfg.Name, "wait", wait)
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	if allowed, _ = l.CanCall(); !allowed {
		return ErrRateLimited
	}
	return nil
}
