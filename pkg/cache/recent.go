package cache

import (
	"container/list"
	"sync"
)

// RecentSet is a thread-safe set of the most recently added keys.
// When the set is full, the oldest inserted key is evicted regardless of how
// often it has been looked up since.
type RecentSet[K comparable] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // front is newest
	mu       sync.Mutex
}

// NewRecentSet creates a set holding at most capacity keys.
// The capacity must be positive, otherwise it panics.
func NewRecentSet[K comparable](capacity int) *RecentSet[K] {
	if capacity <= 0 {
		panic("recent set capacity must be positive")
	}
	return &RecentSet[K]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// Add inserts key and reports whether it was absent. Checking and inserting
// happen under one lock, so of several concurrent callers adding the same key
// exactly one gets true.
func (s *RecentSet[K]) Add(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}

	s.items[key] = s.order.PushFront(key)
	if s.order.Len() > s.capacity {
		s.evictOldest()
	}
	return true
}

// Contains reports whether key is in the set. It does not affect eviction order.
func (s *RecentSet[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

func (s *RecentSet[K]) evictOldest() {
	elem := s.order.Back()
	if elem == nil {
		return
	}
	s.order.Remove(elem)
	delete(s.items, elem.Value.(K))
}
