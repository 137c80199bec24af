package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	Logger       *slog.Logger
	// Name labels log lines.
	Name string
}

// RetryOptions derives retry settings from the tier budget.
func (b Budget) RetryOptions(name string) RetryOptions {
	return RetryOptions{MaxRetries: b.MaxRetries, InitialDelay: b.InitialDelay, Name: name}
}

// Retry calls fn until it succeeds, waiting InitialDelay * 2^attempt between
// attempts, for at most MaxRetries extra attempts. The final failure is
// returned unchanged. Configuration and cancellation errors stop immediately.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.InitialDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Hour
	exp.MaxElapsedTime = 0

	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	var (
		result  T
		attempt int
	)
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Retrying after failure", "op", opts.Name, "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
