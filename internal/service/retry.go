package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/logger"
	"village_backend/internal/storage"
	"village_backend/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RetryPolicy bounds the read-recompute-write loop around a conditional write
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy matches the stock configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, BaseDelay: 10 * time.Millisecond, MaxJitter: 25 * time.Millisecond}
}

func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxJitter: c.MaxJitter}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(attempt)
	if p.MaxJitter > 0 {
		d += rand.N(p.MaxJitter)
	}
	return d
}

// WithOptimisticRetry runs fn until it succeeds, fails with something other than
// storage.ErrConflict, or the attempt budget is spent. fn must re-read whatever it
// writes on every attempt.
func WithOptimisticRetry[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	ctx, span := tracing.Tracer().Start(ctx, op)
	defer span.End()

	attempts := max(p.MaxAttempts, 1)
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := fn(ctx, attempt)
		if err == nil {
			span.SetAttributes(attribute.Int("cas.attempts", attempt))
			return out, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return zero, err
		}

		CASConflicts.WithLabelValues(op).Inc()
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, p.backoff(attempt)); err != nil {
			return zero, err
		}
	}

	CASRetryExhausted.WithLabelValues(op).Inc()
	span.SetStatus(codes.Error, "retry exhausted")
	logger.WithContext(ctx).Warn("optimistic retry exhausted", "op", op, "attempts", attempts)
	return zero, fmt.Errorf("%s: %w", op, ErrRetryExhausted)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
