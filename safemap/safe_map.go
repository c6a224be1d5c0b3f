// Package safemap provides a type-safe wrapper around sync.Map.
package safemap

import "sync"

// SafeMap is a concurrent map safe for use by multiple goroutines. The zero
// value is empty and ready to use. A SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value stored for k.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value, or the zero value of V if absent
//   - true if the key was present
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes k. Deleting an absent key is a no-op.
//
// Returns:
//   - true if the key was present
func (m *SafeMap[K, V]) Delete(k K) bool {
	_, loaded := m.m.LoadAndDelete(k)
	return loaded
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited; no entry is visited twice.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}
