package transport

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/metrics"
	"github.com/ajitpratap0/comet/pkg/quota"
	"go.uber.org/zap"
)

// RetrierConfig defines retry behavior for one logical request.
type RetrierConfig struct {
	// RetryAttempts is the number of retries after the initial attempt.
	RetryAttempts int
	// BackoffFactor b yields a delay of b^attempt seconds before the
	// attempt-th retry, plus jitter in [0,1) seconds.
	BackoffFactor float64
	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration
}

// DefaultRetrierConfig mirrors the API defaults: three retries with
// exponential backoff, factor two.
func DefaultRetrierConfig() RetrierConfig {
	return RetrierConfig{
		RetryAttempts: 3,
		BackoffFactor: 2.0,
		MaxDelay:      2 * time.Minute,
	}
}

// Retrier wraps a single logical request with quota admission, bounded
// retries and exponential backoff with jitter. A retried attempt
// consumes a fresh quota slot. No retry state is shared across tasks.
type Retrier struct {
	config   RetrierConfig
	governor *quota.Governor
	logger   *zap.Logger

	// test hooks
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier gated by the given quota governor.
// RetryAttempts of zero disables retries; only a negative value is
// treated as unset.
func NewRetrier(config RetrierConfig, governor *quota.Governor, logger *zap.Logger) *Retrier {
	if config.RetryAttempts < 0 {
		config.RetryAttempts = DefaultRetrierConfig().RetryAttempts
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = DefaultRetrierConfig().BackoffFactor
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultRetrierConfig().MaxDelay
	}
	return &Retrier{
		config:   config,
		governor: governor,
		logger:   logger.With(zap.String("component", "retrier")),
		jitter:   rand.Float64,
		sleep:    sleepContext,
	}
}

// Execute runs fn until it succeeds, exhausts the retry budget, or
// fails with a non-retryable error. Every attempt, including retries,
// first acquires a quota slot. A rate-limit hint in the error overrides
// the computed backoff.
func (r *Retrier) Execute(ctx context.Context, entity string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var lastErr error

	maxAttempts := r.config.RetryAttempts + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := r.governor.Acquire(ctx); err != nil {
			return nil, err
		}

		body, err := fn(ctx)
		if err == nil {
			metrics.RequestsTotal.WithLabelValues(entity, "ok").Inc()
			return body, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			metrics.RequestsTotal.WithLabelValues(entity, "fatal").Inc()
			return nil, err
		}
		metrics.RequestsTotal.WithLabelValues(entity, "retryable").Inc()

		if attempt == maxAttempts {
			break
		}

		delay := r.backoff(attempt)
		if hint := retryAfterHint(err); hint > 0 {
			delay = hint
		}

		r.logger.Warn("retrying request",
			zap.String("entity", entity),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		metrics.RetriesTotal.WithLabelValues(entity).Inc()

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	terminal := errors.Wrap(lastErr, errors.TypeOf(lastErr), "retries exhausted").
		WithDetail("attempts", maxAttempts)
	var e *errors.Error
	if stderrors.As(lastErr, &e) {
		if endpoint, found := e.Detail("endpoint"); found {
			terminal = terminal.WithDetail("endpoint", endpoint)
		}
		if status, found := e.Detail("status"); found {
			terminal = terminal.WithDetail("last_status", status)
		}
	}
	return nil, terminal
}

// backoff computes factor^attempt seconds plus jitter in [0,1)s.
func (r *Retrier) backoff(attempt int) time.Duration {
	secs := math.Pow(r.config.BackoffFactor, float64(attempt))
	delay := time.Duration(secs * float64(time.Second))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay + time.Duration(r.jitter()*float64(time.Second))
}

// retryAfterHint extracts a server-provided retry-after duration.
func retryAfterHint(err error) time.Duration {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return 0
	}
	v, found := e.Detail("retry_after")
	if !found {
		return 0
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
