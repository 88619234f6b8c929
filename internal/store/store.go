// Package store provides a key-addressed store abstraction used for the
// session table, authentication table, and connection registry.
//
// All state in this process lives behind Store implementations and is held
// in memory only: nothing is serialized, and a restart loses every session,
// cookie jar, and relay connection. A persistent backend can replace Memory
// without touching call sites.
package store

import "sync"

// Store is a string-keyed collection with explicit create/read/update/delete
// operations.
type Store[V any] interface {
	// Get retrieves the value for key. The second return reports presence.
	Get(key string) (V, bool)
	// Put creates or replaces the value for key.
	Put(key string, value V)
	// Delete removes the value for key. Unknown keys are a no-op.
	Delete(key string)
	// Len returns the number of stored entries.
	Len() int
	// Range calls fn for each entry until fn returns false. The iteration
	// order is unspecified.
	Range(fn func(key string, value V) bool)
}

// Memory is an in-memory Store guarded by a RWMutex.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// NewMemory creates an empty in-memory store.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{entries: make(map[string]V)}
}

func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory[V]) Put(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Range iterates over a snapshot of the entries, so fn may call back into
// the store without deadlocking.
func (m *Memory[V]) Range(fn func(key string, value V) bool) {
	m.mu.RLock()
	snapshot := make(map[string]V, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
