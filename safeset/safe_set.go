// Package safeset provides a concurrent set whose iteration works on a
// snapshot, so callers may mutate the set while iterating it.
package safeset

import "sync"

// SafeSet is a thread-safe set of comparable elements. The zero value is
// not usable; create sets with NewSafeSet.
type SafeSet[T comparable] struct {
	mu sync.RWMutex
	m  map[T]struct{}
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add inserts value.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was not present before
func (s *SafeSet[T]) Add(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove deletes value. Removing an absent element is a no-op.
//
// Parameters:
//   - value: The element to remove
//
// Returns:
//   - true if value was present
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[value]; !ok {
		return false
	}

	delete(s.m, value)
	return true
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Snapshot returns a copy of the current elements in unspecified order.
// Later mutations of the set do not affect the returned slice.
func (s *SafeSet[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}

	return out
}

// Range calls f for each element of a snapshot taken at call time. Iteration
// stops if f returns false. f may add or remove elements; such changes are
// not observed by the running iteration.
//
// Parameters:
//   - f: Function called for each element; return false to stop iteration
func (s *SafeSet[T]) Range(f func(value T) bool) {
	for _, v := range s.Snapshot() {
		if !f(v) {
			return
		}
	}
}
