package sharedflow

import (
	"sync"

	"github.com/concord-rt/concord/channel"
	"github.com/concord-rt/concord/flow"
)

// MutableStateFlow is a MutableSharedFlow specialized to replay=1,
// conflated (DropOldest, so Set never suspends), with Set a no-op when the
// new value structurally equals the current one (spec.md §4.9).
type MutableStateFlow[T comparable] struct {
	shared *MutableSharedFlow[T]
	mu     sync.Mutex
	value  T
}

// NewMutableStateFlow creates a MutableStateFlow seeded with initial.
func NewMutableStateFlow[T comparable](initial T) *MutableStateFlow[T] {
	shared := NewMutableSharedFlow[T](1, 0, channel.DropOldest)
	shared.TryEmit(initial)
	return &MutableStateFlow[T]{shared: shared, value: initial}
}

// newBareStateFlow is NewMutableStateFlow without a SubscriptionCountFlow of
// its own, used internally to back SubscriptionCountFlow itself.
func newBareStateFlow[T comparable](initial T) *MutableStateFlow[T] {
	shared := newBareSharedFlow[T](1, 0, channel.DropOldest)
	shared.TryEmit(initial)
	return &MutableStateFlow[T]{shared: shared, value: initial}
}

// Value returns the current value without suspending.
func (s *MutableStateFlow[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set updates the current value, notifying subscribers, unless v equals
// the value already held.
func (s *MutableStateFlow[T]) Set(v T) {
	s.mu.Lock()
	if s.value == v {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.mu.Unlock()
	s.shared.TryEmit(v)
}

// AsFlow adapts the MutableStateFlow into a cold flow.Flow view, starting
// every collector from the current value.
func (s *MutableStateFlow[T]) AsFlow() flow.Flow[T] { return s.shared.AsFlow() }

// Subscribe registers a new subscription, seeded with the current value.
func (s *MutableStateFlow[T]) Subscribe() *Subscription[T] { return s.shared.Subscribe() }

// SubscriptionCountFlow reports the live subscriber count as a StateFlow
// (spec.md §4.9).
func (s *MutableStateFlow[T]) SubscriptionCountFlow() *MutableStateFlow[int] {
	return s.shared.SubscriptionCountFlow()
}
