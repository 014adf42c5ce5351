// Package decaymap implements an expiring key/value map.
package decaymap

import (
	"sync"
	"time"
)

// Zilch returns the zero value of any type.
func Zilch[T any]() T { return *new(T) }

type entry[V any] struct {
	value      V
	expiry     time.Time
	generation uint64
}

// Impl is a mutex-guarded map whose entries decay after their expiry
// passes. Every overwrite of a key bumps that key's generation counter,
// which lets callers detect that a value they read has since been
// replaced.
type Impl[K comparable, V any] struct {
	data map[K]entry[V]
	lock sync.RWMutex
}

func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: make(map[K]entry[V]),
	}
}

func (m *Impl[K, V]) expired(key K) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return false
	}
	return time.Now().After(val.expiry)
}

// Get returns the value for key if it exists and has not expired.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	value, _, ok := m.GetWithGeneration(key)
	return value, ok
}

// GetWithGeneration is Get plus the key's current generation counter.
func (m *Impl[K, V]) GetWithGeneration(key K) (V, uint64, bool) {
	if m.expired(key) {
		m.lock.Lock()
		delete(m.data, key)
		m.lock.Unlock()
		return Zilch[V](), 0, false
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	val, ok := m.data[key]
	if !ok {
		return Zilch[V](), 0, false
	}

	return val.value, val.generation, true
}

// Set stores value under key for ttl, replacing any prior value and
// bumping the key's generation.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = entry[V]{
		value:      value,
		expiry:     time.Now().Add(ttl),
		generation: m.data[key].generation + 1,
	}
}

// Delete removes key and reports whether it was present.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.data[key]
	if ok {
		delete(m.data, key)
	}
	return ok
}

// DeleteGeneration removes key only if its generation still equals gen.
// This is the compare-and-delete used for single-use nonce consumption:
// if the key was overwritten after the caller read it, the delete is
// refused.
func (m *Impl[K, V]) DeleteGeneration(key K, gen uint64) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	val, ok := m.data[key]
	if !ok || val.generation != gen {
		return false
	}
	delete(m.data, key)
	return true
}

// Cleanup removes all expired entries.
func (m *Impl[K, V]) Cleanup() {
	now := time.Now()

	m.lock.Lock()
	defer m.lock.Unlock()

	for key, val := range m.data {
		if now.After(val.expiry) {
			delete(m.data, key)
		}
	}
}

// Len returns the number of entries, including any not yet reclaimed.
func (m *Impl[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.data)
}
