// Package keymu provides a mutex per key. Entries are reference counted and
// dropped when the last holder unlocks, so the map stays bounded by the
// number of keys in use.
package keymu

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex serializes callers that use the same key.
type Mutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New returns an empty keyed mutex.
func New[K comparable]() *Mutex[K] {
	return &Mutex[K]{entries: make(map[K]*entry)}
}

// Lock acquires the lock for key and returns the function that releases it.
func (m *Mutex[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Mutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
