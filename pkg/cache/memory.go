package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory, ordered by last access.
type MemoryStore struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ll: list.New(), items: make(map[string]*list.Element)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	e := *el.Value.(*Entry)
	return &e, nil
}

func (s *MemoryStore) Save(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if el, ok := s.items[e.Key]; ok {
		el.Value = &cp
		s.ll.MoveToFront(el)
		return nil
	}
	s.items[e.Key] = s.ll.PushFront(&cp)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return false, nil
	}
	s.remove(el)
	return true, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len(), nil
}

func (s *MemoryStore) EvictOldest(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := s.ll.Back()
	if el == nil {
		return "", nil
	}
	s.remove(el)
	return el.Value.(*Entry).Key, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for el := s.ll.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*Entry).ExpiresAt) {
			s.remove(el)
			removed++
		}
		el = next
	}
	return removed, nil
}

func (s *MemoryStore) remove(el *list.Element) {
	s.ll.Remove(el)
	delete(s.items, el.Value.(*Entry).Key)
}
