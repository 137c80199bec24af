package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreBound(t *testing.T) {
	const n = 4
	sem := NewSemaphore(n)

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sem.Run(context.Background(), func(ctx context.Context) error {
				cur := active.Add(1)
				for {
					prev := maxSeen.Load()
					if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(n))
	assert.Equal(t, 0, sem.InUse())
}

func TestSemaphoreFIFO(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sem.Run(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// let waiter i queue up before the next one
		time.Sleep(20 * time.Millisecond)
	}

	sem.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSemaphoreReleasesOnPanic(t *testing.T) {
	sem := NewSemaphore(1)

	func() {
		defer func() { _ = recover() }()
		_ = sem.Run(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	}()

	assert.Equal(t, 0, sem.InUse())
	assert.True(t, sem.TryAcquire())
	sem.Release()
}

func TestSemaphoreAcquireHonoursContext(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))
	defer sem.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sem.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, sem.InUse())
}

func TestRunWithPermitTyped(t *testing.T) {
	sem := NewSemaphore(2)
	got, err := RunWithPermit(context.Background(), sem, func(ctx context.Context) (string, error) {
		assert.Equal(t, 1, sem.InUse())
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 0, sem.InUse())
}

func TestMutexSerializes(t *testing.T) {
	mu := NewMutex()
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mu.RunExclusive(context.Background(), func() error {
				total++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, total)
	assert.False(t, mu.Locked())
}
