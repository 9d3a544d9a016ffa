// Package sharedflow implements spec.md §4.9: a hot, multicast flow with
// replay and a configurable backpressure policy, plus StateFlow as its
// replay=1, equality-conflated specialization. It is grounded on
// original_source's AbstractSharedFlow.cpp (the ring buffer of
// replay+extra-buffer slots, per-subscriber read index, parked-emitter
// list) adapted onto concord.CancellableContinuation for suspension
// instead of the original's intrinsics-based continuation resumption.
package sharedflow

import (
	"sync"

	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/channel"
	"github.com/concord-rt/concord/config"
	"github.com/concord-rt/concord/flow"
)

// MutableSharedFlow is a hot flow: values emitted while no subscriber is
// collecting are simply gone (subject to replay). Emit's behavior when the
// ring buffer is full is governed by policy: Suspend parks the emitter
// until the slowest subscriber advances; DropOldest evicts the oldest
// buffered value instead; DropLatest discards the value being emitted.
type MutableSharedFlow[T any] struct {
	mu          sync.Mutex
	replay      int
	extraBuffer int
	policy      channel.OverflowPolicy

	buf      []T   // buf[i] holds global index bufStart+i
	bufStart int64 // global index of buf[0]; also the count of evicted values

	subs []*subscription[T]

	emitWaiters []*concord.CancellableContinuation[struct{}]

	subscriberCount *MutableStateFlow[int]
}

type subscription[T any] struct {
	flow *MutableSharedFlow[T]

	mu        sync.Mutex
	readIndex int64
	waiting   *concord.CancellableContinuation[T]
	closed    bool
}

// NewMutableSharedFlow creates a MutableSharedFlow that replays the last
// replay values to new subscribers and additionally buffers up to
// extraBuffer values ahead of the slowest subscriber before policy kicks
// in (spec.md §4.9).
func NewMutableSharedFlow[T any](replay, extraBuffer int, policy channel.OverflowPolicy) *MutableSharedFlow[T] {
	f := newBareSharedFlow[T](replay, extraBuffer, policy)
	f.subscriberCount = newBareStateFlow(0)
	return f
}

// newBareSharedFlow builds a MutableSharedFlow without its own
// subscriberCount StateFlow, breaking the recursion a subscriber-count
// StateFlow would otherwise need to track its own subscriber count.
func newBareSharedFlow[T any](replay, extraBuffer int, policy channel.OverflowPolicy) *MutableSharedFlow[T] {
	if replay < 0 {
		replay = int(config.Active().SharedFlowReplayDefault)
	}
	if replay < 0 || extraBuffer < 0 {
		panic("concord/sharedflow: replay and extraBuffer must be >= 0")
	}
	return &MutableSharedFlow[T]{replay: replay, extraBuffer: extraBuffer, policy: policy}
}

func (f *MutableSharedFlow[T]) capacity() int { return f.replay + f.extraBuffer }

// TryEmit attempts to publish v without suspending. It returns false only
// under the Suspend policy when the buffer is full and the slowest
// subscriber hasn't advanced past it.
func (f *MutableSharedFlow[T]) TryEmit(v T) bool {
	f.mu.Lock()
	if f.capacity() == 0 {
		// No replay, no buffer: v reaches only subscribers parked waiting
		// for the very next value.
		resumed := f.resumeWaitingLocked(v, f.bufStart)
		f.bufStart++
		f.mu.Unlock()
		_ = resumed
		return true
	}

	if len(f.buf) < f.capacity() {
		f.buf = append(f.buf, v)
		f.wakeSubscribersLocked()
		f.mu.Unlock()
		return true
	}

	slowest := f.slowestReadIndexLocked()
	if slowest > f.bufStart {
		// The oldest buffered value has been read by everyone that still
		// needs it; safe to evict unconditionally.
		f.evictOldestLocked()
		f.buf = append(f.buf, v)
		f.wakeSubscribersLocked()
		f.mu.Unlock()
		return true
	}

	if f.policy == channel.DropOldest {
		f.evictOldestLocked()
		f.buf = append(f.buf, v)
		f.wakeSubscribersLocked()
		f.mu.Unlock()
		return true
	}

	if f.policy == channel.DropLatest {
		f.mu.Unlock()
		return true // v is dropped; the buffer stays as it is
	}

	f.mu.Unlock()
	return false
}

// Emit publishes v, suspending under the Suspend policy until room frees up
// (spec.md §4.9's emit algorithm).
func (f *MutableSharedFlow[T]) Emit(ctx concord.Context, v T) error {
	for {
		if f.TryEmit(v) {
			return nil
		}
		job, _ := concord.JobOf(ctx)
		cont := concord.NewCancellableContinuation[struct{}](job)
		f.mu.Lock()
		f.emitWaiters = append(f.emitWaiters, cont)
		f.mu.Unlock()
		if _, err := cont.Await().Unwrap(); err != nil {
			return err
		}
	}
}

// slowestReadIndexLocked returns the minimum readIndex across every live
// subscriber, or bufStart+int64(len(buf)) (i.e. "nobody is behind") if there
// are none.
func (f *MutableSharedFlow[T]) slowestReadIndexLocked() int64 {
	slowest := f.bufStart + int64(len(f.buf))
	for _, s := range f.subs {
		s.mu.Lock()
		if !s.closed && s.readIndex < slowest {
			slowest = s.readIndex
		}
		s.mu.Unlock()
	}
	return slowest
}

func (f *MutableSharedFlow[T]) evictOldestLocked() {
	if len(f.buf) == 0 {
		return
	}
	f.buf = f.buf[1:]
	f.bufStart++
	// Any subscriber whose readIndex pointed at the evicted slot skips
	// ahead to the new start: it will observe the gap, never the value.
	for _, s := range f.subs {
		s.mu.Lock()
		if s.readIndex < f.bufStart {
			s.readIndex = f.bufStart
		}
		s.mu.Unlock()
	}
}

func (f *MutableSharedFlow[T]) wakeSubscribersLocked() {
	for _, s := range f.subs {
		s.mu.Lock()
		waiting := s.waiting
		offset := s.readIndex - f.bufStart
		if waiting == nil || offset < 0 || offset >= int64(len(f.buf)) {
			s.mu.Unlock()
			continue
		}
		s.waiting = nil
		s.readIndex++
		v := f.buf[offset]
		s.mu.Unlock()
		waiting.Resume(v)
	}
}

// resumeWaitingLocked handles the replay=0/extraBuffer=0 degenerate case:
// v only reaches subscribers already parked exactly at index.
func (f *MutableSharedFlow[T]) resumeWaitingLocked(v T, index int64) bool {
	resumed := false
	for _, s := range f.subs {
		s.mu.Lock()
		if s.waiting != nil && s.readIndex == index {
			w := s.waiting
			s.waiting = nil
			s.readIndex++
			s.mu.Unlock()
			w.Resume(v)
			resumed = true
			continue
		}
		s.mu.Unlock()
	}
	return resumed
}

// Subscribe registers a new subscriber, seeded to replay the flow's most
// recent replay values (spec.md §4.9).
func (f *MutableSharedFlow[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	start := f.bufStart + int64(len(f.buf)) - int64(minInt(f.replay, len(f.buf)))
	s := &subscription[T]{flow: f, readIndex: start}
	f.subs = append(f.subs, s)
	count := len(f.subs)
	f.mu.Unlock()
	f.setSubscriberCount(count)
	return &Subscription[T]{s: s}
}

func (f *MutableSharedFlow[T]) setSubscriberCount(n int) {
	if f.subscriberCount != nil {
		f.subscriberCount.Set(n)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Subscription is one subscriber's read cursor over a MutableSharedFlow.
type Subscription[T any] struct{ s *subscription[T] }

// Next suspends until the next value after this subscription's cursor is
// available, then returns it and advances the cursor.
func (sub *Subscription[T]) Next(ctx concord.Context) (T, error) {
	s := sub.s
	f := s.flow
	for {
		f.mu.Lock()
		offset := s.readIndex - f.bufStart
		if offset >= 0 && offset < int64(len(f.buf)) {
			v := f.buf[offset]
			s.mu.Lock()
			s.readIndex++
			s.mu.Unlock()
			f.mu.Unlock()
			f.wakeEmittersIfRoom()
			return v, nil
		}
		if offset < 0 {
			// Fell behind past eviction: skip to the new start, losing the
			// values in between (DropOldest semantics already applied).
			s.mu.Lock()
			s.readIndex = f.bufStart
			s.mu.Unlock()
			f.mu.Unlock()
			continue
		}
		job, _ := concord.JobOf(ctx)
		cont := concord.NewCancellableContinuation[T](job)
		s.mu.Lock()
		s.waiting = cont
		s.mu.Unlock()
		f.mu.Unlock()
		v, err := cont.Await().Unwrap()
		if err != nil {
			var zero T
			return zero, err
		}
		return v, nil
	}
}

// Unsubscribe removes this subscription, so it no longer holds back
// eviction/Suspend emits.
func (sub *Subscription[T]) Unsubscribe() {
	s := sub.s
	f := s.flow
	f.mu.Lock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for i, x := range f.subs {
		if x == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	count := len(f.subs)
	f.mu.Unlock()
	f.setSubscriberCount(count)
	f.wakeEmittersIfRoom()
}

func (f *MutableSharedFlow[T]) wakeEmittersIfRoom() {
	f.mu.Lock()
	if len(f.buf) >= f.capacity() && f.slowestReadIndexLocked() <= f.bufStart {
		f.mu.Unlock()
		return
	}
	waiters := f.emitWaiters
	f.emitWaiters = nil
	f.mu.Unlock()
	for _, w := range waiters {
		w.Resume(struct{}{})
	}
}

// AsFlow adapts the MutableSharedFlow into a cold flow.Flow view: each
// Collect call creates its own Subscription and drains it, so multiple
// collectors observe the same multicast sequence independently.
func (f *MutableSharedFlow[T]) AsFlow() flow.Flow[T] {
	return flow.New(func(ctx concord.Context, emit func(T) error) error {
		sub := f.Subscribe()
		defer sub.Unsubscribe()
		for {
			v, err := sub.Next(ctx)
			if err != nil {
				return err
			}
			if err := emit(v); err != nil {
				return err
			}
		}
	})
}

// SubscriptionCount reports the number of live subscribers.
func (f *MutableSharedFlow[T]) SubscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// SubscriptionCountFlow exposes the live subscriber count as a StateFlow,
// so upstream sharing policies (e.g. "start producing only once someone is
// listening") can react to it (spec.md §4.9).
func (f *MutableSharedFlow[T]) SubscriptionCountFlow() *MutableStateFlow[int] {
	return f.subscriberCount
}
