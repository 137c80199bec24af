package concurrency

import (
	"context"
	"sync"
	"time"
)

type lane struct {
	sem   *Semaphore
	refs  int
	ready time.Time
}

// Sequencer runs jobs submitted under the same name one at a time, in
// submission order. Different names proceed independently. An optional
// spacing enforces a minimum gap between the starts of consecutive jobs of
// one name. Lanes nobody waits on are dropped once their spacing has passed.
type Sequencer struct {
	spacing time.Duration

	mu    sync.Mutex
	lanes map[string]*lane
}

func NewSequencer(spacing time.Duration) *Sequencer {
	return &Sequencer{spacing: spacing, lanes: make(map[string]*lane)}
}

// Do waits for its turn in the named queue and runs fn.
func (s *Sequencer) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l := s.join(name)
	defer s.part(name, l)

	if err := l.sem.Acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release()

	s.mu.Lock()
	ready := l.ready
	s.mu.Unlock()
	if wait := time.Until(ready); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.mu.Lock()
	l.ready = time.Now().Add(s.spacing)
	s.mu.Unlock()
	return fn(ctx)
}

func (s *Sequencer) join(name string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(time.Now())
	l, ok := s.lanes[name]
	if !ok {
		l = &lane{sem: NewSemaphore(1)}
		s.lanes[name] = l
	}
	l.refs++
	return l
}

func (s *Sequencer) part(name string, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 && time.Until(l.ready) <= 0 {
		delete(s.lanes, name)
	}
}

// prune drops idle lanes whose spacing has elapsed. Callers hold s.mu.
func (s *Sequencer) prune(now time.Time) {
	for name, l := range s.lanes {
		if l.refs == 0 && !now.Before(l.ready) {
			delete(s.lanes, name)
		}
	}
}

// Len reports how many named queues are live.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}
