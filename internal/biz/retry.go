package biz

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"SortLedger/internal/conf"
	pkgerrors "SortLedger/pkg/errors"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// defaultJitterFactor is the maximum jitter as a fraction of the delay.
const defaultJitterFactor = 0.3

// RetryPolicy retries primary-store batch writes with exponential backoff
// and jitter. It is used by the sync engine only; the hot write path never
// retries.
type RetryPolicy struct {
	attempts     int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	logger *pkglog.LogHelper
}

// RetryOption customises a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithSleeper replaces the context-aware sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(p *RetryPolicy) {
		p.sleep = sleep
	}
}

// WithJitterSource replaces the [0,1) random source used for jitter.
func WithJitterSource(src func() float64) RetryOption {
	return func(p *RetryPolicy) {
		p.jitter = src
	}
}

// NewRetryPolicy creates a retry policy from the sync configuration.
func NewRetryPolicy(c *conf.Sync, logger log.Logger, opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		attempts:     c.RetryAttempts,
		baseDelay:    c.RetryBaseDelay,
		maxDelay:     c.RetryMaxDelay,
		jitterFactor: defaultJitterFactor,
		sleep:        sleepContext,
		//nolint:gosec // jitter is not security sensitive
		jitter: rand.Float64,
		logger: pkglog.NewLogHelper(logger),
	}
	if p.attempts < 1 {
		p.attempts = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempts returns the maximum number of attempts per operation.
func (p *RetryPolicy) Attempts() int {
	return p.attempts
}

// Delay returns the wait before retry number attempt (0-based): the base
// delay doubled per attempt, capped at the max delay, plus up to
// jitterFactor of itself.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if p.maxDelay > 0 && delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	delay += delay * p.jitterFactor * p.jitter()
	return time.Duration(delay)
}

// Do runs op until it succeeds, fails permanently, the attempts are used
// up or ctx is done. The last error is returned.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry is the value-returning form of RetryPolicy.Do.
func Retry[T any](ctx context.Context, p *RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if pkgerrors.IsPermanent(err) {
			return zero, err
		}
		if attempt == p.attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		p.logger.Warnw(
			"msg", "primary batch write failed, retrying",
			"attempt", attempt+1,
			"max_attempts", p.attempts,
			"delay", delay,
			"error", err,
			"error_type", pkgerrors.ErrorType(err),
			"type", "sync",
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry interrupted after %d attempts: %w", attempt+1, lastErr)
		}
	}

	return zero, fmt.Errorf("giving up after %d attempts: %w", p.attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
