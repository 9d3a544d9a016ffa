package flow

import (
	"github.com/concord-rt/concord"
)

// firstDone is a private sentinel First uses to unwind the
// upstream Collect loop once it has what it needs, the same trick
// original_source documents for `first` (spec.md §4.8: "a private exception
// that the flow plumbing recognizes and swallows exactly for the
// select-owning collector; other collectors rethrow").
type firstDone struct{}

func (*firstDone) Error() string { return concord.Namespace + ": flow: collection stopped early" }

// Collect runs f to completion, invoking fn for every value. It is the
// simplest terminal operator; every other terminal operator is built on it.
func Collect[T any](ctx concord.Context, f Flow[T], fn func(T) error) error {
	return f.Collect(ctx, func(_ concord.Context, v T) error { return fn(v) })
}

// ToList collects every value f emits into a slice.
func ToList[T any](ctx concord.Context, f Flow[T]) ([]T, error) {
	var out []T
	err := Collect(ctx, f, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// First returns f's first emitted value, stopping upstream production
// immediately afterward. ErrEmptyFlow is returned if f completes without
// emitting anything.
func First[T any](ctx concord.Context, f Flow[T]) (T, error) {
	var (
		result T
		found  bool
	)
	err := f.Collect(ctx, func(_ concord.Context, v T) error {
		result = v
		found = true
		return &firstDone{}
	})
	if fd, ok := err.(*firstDone); ok {
		_ = fd
		err = nil
	}
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		var zero T
		return zero, ErrEmptyFlow
	}
	return result, nil
}

// Single returns f's only value, failing with ErrMoreThanOneElement if it
// emits more than one.
func Single[T any](ctx concord.Context, f Flow[T]) (T, error) {
	var (
		result T
		count  int
	)
	err := Collect(ctx, f, func(v T) error {
		count++
		if count > 1 {
			return ErrMoreThanOneElement
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if count == 0 {
		var zero T
		return zero, ErrEmptyFlow
	}
	return result, nil
}

// Last returns f's final emitted value.
func Last[T any](ctx concord.Context, f Flow[T]) (T, error) {
	var (
		result T
		found  bool
	)
	err := Collect(ctx, f, func(v T) error {
		result = v
		found = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		var zero T
		return zero, ErrEmptyFlow
	}
	return result, nil
}

// Count reports how many values f emits.
func Count[T any](ctx concord.Context, f Flow[T]) (int, error) {
	n := 0
	err := Collect(ctx, f, func(T) error {
		n++
		return nil
	})
	return n, err
}

// Reduce folds f's values with op, seeded by its first value, failing with
// ErrEmptyFlow if f emits nothing.
func Reduce[T any](ctx concord.Context, f Flow[T], op func(acc, v T) T) (T, error) {
	var (
		acc     T
		started bool
	)
	err := Collect(ctx, f, func(v T) error {
		if !started {
			acc = v
			started = true
			return nil
		}
		acc = op(acc, v)
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !started {
		var zero T
		return zero, ErrEmptyFlow
	}
	return acc, nil
}

// Fold folds f's values with op, seeded by initial.
func Fold[T, R any](ctx concord.Context, f Flow[T], initial R, op func(acc R, v T) R) (R, error) {
	acc := initial
	err := Collect(ctx, f, func(v T) error {
		acc = op(acc, v)
		return nil
	})
	return acc, err
}

// LaunchIn collects f on its own coroutine under ctx, returning its Job
// immediately instead of blocking the caller (spec.md §4.8's launchIn).
func LaunchIn[T any](ctx concord.Context, f Flow[T]) *concord.Job {
	return concord.Launch(ctx, concord.StartDefault, func(ctx concord.Context) {
		if err := Collect(ctx, f, func(T) error { return nil }); err != nil {
			panic(err)
		}
	})
}
