// Package concurrency provides the permit pool, mutual exclusion, in-flight
// request deduplication and ordered queues used by the research engine.
//
// Every blocking operation takes a context so that an aborted session releases
// its goroutines promptly.
package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultPermits caps concurrent outbound search/model calls process-wide.
const DefaultPermits = 5

// Semaphore is a bounded pool of permits. Waiters are woken in FIFO order.
type Semaphore struct {
	w     *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// NewSemaphore returns a pool with n permits. n <= 0 selects DefaultPermits.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = DefaultPermits
	}
	return &Semaphore{w: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// Acquire blocks until a permit is free. It only returns an error when ctx is
// done before a permit could be granted.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.inUse.Add(1)
	return nil
}

// TryAcquire takes a permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.inUse.Add(1)
	return true
}

// Release returns a permit to the pool, handing it to the oldest waiter if any.
func (s *Semaphore) Release() {
	s.inUse.Add(-1)
	s.w.Release(1)
}

// Run acquires a permit, runs fn and releases the permit even if fn panics.
func (s *Semaphore) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Size is the total number of permits.
func (s *Semaphore) Size() int { return int(s.size) }

// InUse is the number of permits currently held.
func (s *Semaphore) InUse() int { return int(s.inUse.Load()) }

// RunWithPermit is the typed form of Semaphore.Run.
func RunWithPermit[T any](ctx context.Context, s *Semaphore, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := s.Acquire(ctx); err != nil {
		return zero, err
	}
	defer s.Release()
	return fn(ctx)
}
