package concurrency

import "context"

// Mutex is a context-aware binary semaphore. It guards accumulators that many
// task goroutines settle into concurrently.
type Mutex struct {
	sem *Semaphore
}

func NewMutex() *Mutex {
	return &Mutex{sem: NewSemaphore(1)}
}

func (m *Mutex) Lock(ctx context.Context) error { return m.sem.Acquire(ctx) }

func (m *Mutex) Unlock() { m.sem.Release() }

// RunExclusive runs fn while holding the lock.
func (m *Mutex) RunExclusive(ctx context.Context, fn func() error) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	return fn()
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool { return m.sem.InUse() > 0 }
