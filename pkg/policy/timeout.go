package policy

import (
	"context"
	"time"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// WithTimeout runs fn and fails with a TimeoutError if it has not returned
// within d. The context handed to fn is canceled on timeout, but side effects
// fn already committed are not undone and a late result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, message string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, &errs.TimeoutError{Message: message, After: d}
	case <-ctx.Done():
		return zero, errs.Canceled("", ctx.Err())
	}
}
