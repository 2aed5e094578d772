// Package signal provides a minimal synchronous observable value.
//
// A Signal stores one value and a list of listeners. Emit stores the new
// value and calls every listener registered at the moment of the call, in
// registration order, on the calling goroutine. Listeners added or removed
// while an emission is in flight take effect from the next emission.
package signal

import "sync"

// Listener receives each emitted value.
type Listener[T any] func(T)

type subscription[T any] struct {
	fn Listener[T]
}

// Signal is a value with change listeners. The zero value is ready to use
// and holds the zero value of T.
type Signal[T any] struct {
	mu        sync.Mutex
	value     T
	set       bool
	listeners []*subscription[T]
}

// New returns a signal that already holds v.
func New[T any](v T) *Signal[T] {
	return &Signal[T]{value: v, set: true}
}

// NewWithZero returns an unset signal whose Value reports zero until the
// first Emit. Hydration uses the declared zero to decide how rendered
// text is coerced when seeding.
func NewWithZero[T any](zero T) *Signal[T] {
	return &Signal[T]{value: zero}
}

// Value returns the current value and whether any value has been
// emitted (or supplied to New).
func (s *Signal[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	v, _ := s.Value()
	return v
}

// Emit stores v and synchronously notifies a snapshot of the listeners.
// The lock is not held while listeners run, so a listener may call Emit,
// On or an unsubscribe function on the same signal.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	s.value = v
	s.set = true
	snapshot := make([]*subscription[T], len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// On registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (s *Signal[T]) On(fn Listener[T]) (unsubscribe func()) {
	sub := &subscription[T]{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

func (s *Signal[T]) remove(sub *subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l == sub {
			// Copy so in-flight snapshots never observe the shift.
			next := make([]*subscription[T], 0, len(s.listeners)-1)
			next = append(next, s.listeners[:i]...)
			s.listeners = append(next, s.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
