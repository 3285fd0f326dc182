// Package cache provides a bounded in-memory LRU store and a decorator
// that serves repeated deterministic operations from cached results.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds a store when no explicit capacity is given.
const DefaultCapacity = 1000

// Store is a fixed-capacity key/value cache with least-recently-used
// eviction. Reads promote the key; inserting a new key at capacity
// evicts the stalest one. Safe for concurrent use.
type Store[V any] struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = most recently used
	items map[string]*list.Element
}

type storeEntry[V any] struct {
	key   string
	value V
}

// NewStore returns an empty store bounded to capacity entries.
// Capacities below 1 fall back to DefaultCapacity.
func NewStore[V any](capacity int) *Store[V] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store[V]{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Get returns the value stored under key and marks it most recently used.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*storeEntry[V]).value, true
}

// Set inserts or replaces the value under key and marks it most recently
// used. When a new key would push the store past capacity, the least
// recently used entry is evicted first.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		el.Value.(*storeEntry[V]).value = value
		s.order.MoveToFront(el)
		return
	}
	if len(s.items) >= s.cap {
		if back := s.order.Back(); back != nil {
			s.order.Remove(back)
			delete(s.items, back.Value.(*storeEntry[V]).key)
		}
	}
	s.items[key] = s.order.PushFront(&storeEntry[V]{key: key, value: value})
}

// Delete removes key if present.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
}

// Clear removes every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	clear(s.items)
}

// Len returns the number of stored entries.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Cap returns the fixed capacity.
func (s *Store[V]) Cap() int { return s.cap }
