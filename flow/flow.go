// Package flow implements spec.md §4.8: a cold, asynchronous stream that
// only does work while it has a collector. Flow is a single-method
// interface just as in original_source's Flow.hpp; concord/flow's builder
// (New) plays the role of the `flow { ... }` DSL, and emit enforces
// "context preservation" with a flag that is set only while Collect's call
// to the producer is running: an emit after the producer has returned
// panics. An emit from another goroutine while the producer is still
// running is not detected.
package flow

import (
	"sync/atomic"

	"github.com/concord-rt/concord"
)

// Flow produces a sequence of T values to whatever collect function Collect
// is given, then returns (nil on normal completion, or the error that ended
// the stream).
type Flow[T any] interface {
	Collect(ctx concord.Context, collect func(ctx concord.Context, v T) error) error
}

// New builds a cold Flow from producer: every Collect call runs producer
// once, from scratch, passing it an emit function that feeds collect.
// Calling emit after producer has returned panics with a
// *ContextPreservationViolation (spec.md §4.8); a call from another
// goroutine while producer is still running is not detected.
func New[T any](producer func(ctx concord.Context, emit func(v T) error) error) Flow[T] {
	return producerFlow[T]{producer: producer}
}

type producerFlow[T any] struct {
	producer func(ctx concord.Context, emit func(v T) error) error
}

func (f producerFlow[T]) Collect(ctx concord.Context, collect func(concord.Context, T) error) error {
	var active atomic.Bool
	active.Store(true)
	emit := func(v T) error {
		if !active.Load() {
			panic(&ContextPreservationViolation{})
		}
		if err := collect(ctx, v); err != nil {
			return &downstreamError{err: err}
		}
		return nil
	}
	err := f.producer(ctx, emit)
	active.Store(false)
	if de, ok := err.(*downstreamError); ok {
		return de.err
	}
	return err
}

// ContextPreservationViolation is panicked by a Flow builder's emit
// function when called after its producer returned.
type ContextPreservationViolation struct{}

func (*ContextPreservationViolation) Error() string {
	return concord.Namespace + ": flow emitted outside the collecting coroutine (context preservation violated)"
}

// downstreamError marks an error that originated from a collector
// (downstream of whichever flow produced it), so operators like Catch can
// tell it apart from an upstream production failure and rethrow it
// unchanged (spec.md §4.8 catch semantics).
type downstreamError struct{ err error }

func (e *downstreamError) Error() string { return e.err.Error() }
func (e *downstreamError) Unwrap() error { return e.err }

func asDownstream(err error) (error, bool) {
	if de, ok := err.(*downstreamError); ok {
		return de.err, true
	}
	return nil, false
}

// Map applies fn to every value upstream emits, grounded on the teacher's Map
// (map.go): instead of fanning items out over a worker pool, it threads
// them one at a time through the upstream flow.
func Map[T, R any](upstream Flow[T], fn func(T) (R, error)) Flow[R] {
	return New(func(ctx concord.Context, emit func(R) error) error {
		return upstream.Collect(ctx, func(ctx concord.Context, v T) error {
			r, err := fn(v)
			if err != nil {
				return err
			}
			return emit(r)
		})
	})
}

// Filter keeps only the values for which keep returns true.
func Filter[T any](upstream Flow[T], keep func(T) bool) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		return upstream.Collect(ctx, func(ctx concord.Context, v T) error {
			if !keep(v) {
				return nil
			}
			return emit(v)
		})
	})
}

// OnEach runs fn for its side effect on every value, passing it through
// unchanged.
func OnEach[T any](upstream Flow[T], fn func(T)) Flow[T] {
	return Map(upstream, func(v T) (T, error) {
		fn(v)
		return v, nil
	})
}

// OnCompletion runs fn once collection ends, with the terminating cause (nil
// on success), whether the Flow completed normally or failed (spec.md §4.8).
func OnCompletion[T any](upstream Flow[T], fn func(cause error)) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		err := upstream.Collect(ctx, func(ctx concord.Context, v T) error { return emit(v) })
		if _, ok := asDownstream(err); ok {
			fn(err)
			return err
		}
		fn(err)
		return err
	})
}

// Catch intercepts an upstream failure (one not raised by collect itself)
// and replaces it with whatever handler returns; handler returning nil lets
// the Flow end normally. Errors raised by the downstream collector are
// rethrown unchanged (spec.md §4.8).
func Catch[T any](upstream Flow[T], handler func(error) error) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		err := upstream.Collect(ctx, func(ctx concord.Context, v T) error { return emit(v) })
		if err == nil {
			return nil
		}
		if de, ok := asDownstream(err); ok {
			return de
		}
		return handler(err)
	})
}
