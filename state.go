package gpucompute

import "sync"

// State holds the authoritative value of a data type.
//
// Writes come in two flavors. Set and Update are observed writes: they bump
// the generation, which arms change-triggered dispatches. SetSilent replaces
// the value without bumping it; the engine uses it to write compute results
// back so a result never re-triggers the dispatch that produced it.
//
// State is safe for concurrent use.
type State[T any] struct {
	mu    sync.Mutex
	value T
	gen   uint64
}

// NewState returns a state holding v. The initial value counts as a change.
func NewState[T any](v T) *State[T] {
	return &State[T]{value: v, gen: 1}
}

// Get returns the current value.
func (s *State[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores v as an observed write.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.gen++
	s.mu.Unlock()
}

// Update applies fn to the value as an observed write.
func (s *State[T]) Update(fn func(*T)) {
	s.mu.Lock()
	fn(&s.value)
	s.gen++
	s.mu.Unlock()
}

// SetSilent stores v without arming change detection.
func (s *State[T]) SetSilent(v T) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Generation returns the number of observed writes, counting the initial value.
func (s *State[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// ChangedSince reports whether an observed write happened after gen.
func (s *State[T]) ChangedSince(gen uint64) bool {
	return s.Generation() != gen
}
