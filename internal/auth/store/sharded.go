// Package store provides the in-memory keyed state used by the auth engine.
package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultShards = 32

// Store is the keyed state abstraction the engine depends on.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string) bool
	Update(key string, fn UpdateFunc[V]) (V, bool)
	Keys() []string
	Range(fn func(key string, value V) bool)
	Len() int
	Clear() int
}

// UpdateFunc receives the current value (ok is false when absent) and
// returns the next value. Returning keep=false deletes the key.
type UpdateFunc[V any] func(current V, ok bool) (next V, keep bool)

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// ShardedMap is a lock-striped map. Each key is guarded by the lock of its
// shard, so writers on different keys rarely contend and a full scan never
// holds more than one shard lock at a time.
type ShardedMap[V any] struct {
	shards []*shard[V]
}

var _ Store[int] = (*ShardedMap[int])(nil)

func NewShardedMap[V any](shards int) *ShardedMap[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	m := &ShardedMap[V]{shards: make([]*shard[V], shards)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *ShardedMap[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

func (m *ShardedMap[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

func (m *ShardedMap[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok
}

// Update runs fn under the key's shard lock, making the read-modify-write
// atomic with respect to every other operation on the same key. fn must not
// call back into the map.
func (m *ShardedMap[V]) Update(key string, fn UpdateFunc[V]) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[key]
	next, keep := fn(cur, ok)
	if !keep {
		delete(s.items, key)
		var zero V
		return zero, false
	}
	s.items[key] = next
	return next, true
}

// Keys returns a snapshot of all keys, taken one shard at a time.
func (m *ShardedMap[V]) Keys() []string {
	var keys []string
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// Range calls fn for a snapshot of each shard with no lock held, so fn may
// mutate the map. Stops early when fn returns false.
func (m *ShardedMap[V]) Range(fn func(key string, value V) bool) {
	type kv struct {
		k string
		v V
	}
	for _, s := range m.shards {
		s.mu.RLock()
		batch := make([]kv, 0, len(s.items))
		for k, v := range s.items {
			batch = append(batch, kv{k, v})
		}
		s.mu.RUnlock()

		for _, e := range batch {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}

func (m *ShardedMap[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Clear removes every key and returns how many were removed.
func (m *ShardedMap[V]) Clear() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
	return n
}
