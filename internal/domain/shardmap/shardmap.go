// Package shardmap provides a generic concurrent map partitioned into a
// power-of-two number of independently locked shards.
package shardmap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var ErrShardCount = errors.New("shard count must be a positive power of two")

// Map is a sharded map keyed by string-like identifiers.
type Map[K ~string, V any] struct {
	shards []*shard[K, V]
	mask   uint64
}

type shard[K ~string, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New allocates a map with n shards. n must be a power of two.
func New[K ~string, V any](n int) (*Map[K, V], error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("shardmap: %d: %w", n, ErrShardCount)
	}

	m := &Map[K, V]{
		shards: make([]*shard[K, V], n),
		mask:   uint64(n - 1),
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m, nil
}

func (m *Map[K, V]) shard(key K) *shard[K, V] {
	return m.shards[xxhash.Sum64String(string(key))&m.mask]
}

// ShardCount returns the number of shards.
func (m *Map[K, V]) ShardCount() int { return len(m.shards) }

func (m *Map[K, V]) Put(key K, value V) {
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Remove deletes key and returns the removed value.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return v, ok
}

// GetOrCreate returns the value stored under key, calling factory to build
// and insert one on a miss. The flag reports whether this call inserted.
// factory runs under the shard write lock and must not touch the map.
func (m *Map[K, V]) GetOrCreate(key K, factory func() V) (V, bool) {
	v, inserted, _ := m.TryGetOrCreate(key, func() (V, error) { return factory(), nil })
	return v, inserted
}

// TryGetOrCreate is GetOrCreate with a fallible factory. Nothing is inserted
// when the factory fails.
func (m *Map[K, V]) TryGetOrCreate(key K, factory func() (V, error)) (V, bool, error) {
	s := m.shard(key)

	// [FAST_PATH] Hits only need the read lock.
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// [RACE_CHECK] Another writer may have inserted between the two locks.
	if v, ok := s.items[key]; ok {
		return v, false, nil
	}

	v, err := factory()
	if err != nil {
		var zero V
		return zero, false, err
	}
	s.items[key] = v
	return v, true, nil
}

// CleanupAndCount walks shards one at a time. Each entry is classified under
// the read lock; onKept (optional) is invoked for survivors. Marked keys are
// then erased under a separate write lock, re-checking shouldRemove against
// the current value so an entry revived in between is kept. pause, if
// positive, is slept between shards. Returns the number of removed entries.
func (m *Map[K, V]) CleanupAndCount(shouldRemove func(K, V) bool, onKept func(K, V), pause time.Duration) int {
	removed := 0
	var marked []K

	for i, s := range m.shards {
		marked = marked[:0]

		s.mu.RLock()
		for k, v := range s.items {
			if shouldRemove(k, v) {
				marked = append(marked, k)
			} else if onKept != nil {
				onKept(k, v)
			}
		}
		s.mu.RUnlock()

		if len(marked) > 0 {
			s.mu.Lock()
			for _, k := range marked {
				v, ok := s.items[k]
				if !ok {
					continue
				}
				if !shouldRemove(k, v) {
					continue
				}
				delete(s.items, k)
				removed++
			}
			s.mu.Unlock()
		}

		if pause > 0 && i < len(m.shards)-1 {
			time.Sleep(pause)
		}
	}

	return removed
}

// Range calls fn for every entry under the owning shard's read lock.
// Iteration stops when fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len sums shard sizes. Not a consistent snapshot under concurrent writes.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear empties every shard and returns the number of dropped entries.
func (m *Map[K, V]) Clear() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.items = make(map[K]V)
		s.mu.Unlock()
	}
	return n
}
