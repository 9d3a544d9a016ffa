package flow

import "github.com/concord-rt/concord"

// Retry re-subscribes to upstream whenever it fails with a non-cancellation
// error and predicate(err, attempt) reports true (spec.md §4.8's retry).
// Values emitted before a failure have already reached the collector; a
// retried upstream starts again from scratch and can emit them again.
func Retry[T any](upstream Flow[T], predicate func(err error, attempt int) bool) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		for attempt := 1; ; attempt++ {
			err := upstream.Collect(ctx, func(_ concord.Context, v T) error { return emit(v) })
			if err == nil {
				return nil
			}
			if de, ok := asDownstream(err); ok {
				return de
			}
			if concord.IsCancellation(err) || !predicate(err, attempt) {
				return err
			}
		}
	})
}

// RetryWhen is Retry generalized to a predicate that also receives the
// collecting Context, so it may itself perform a suspending action (a
// delay, a circuit-breaker check) before deciding.
func RetryWhen[T any](upstream Flow[T], predicate func(ctx concord.Context, err error, attempt int) bool) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		for attempt := 1; ; attempt++ {
			err := upstream.Collect(ctx, func(_ concord.Context, v T) error { return emit(v) })
			if err == nil {
				return nil
			}
			if de, ok := asDownstream(err); ok {
				return de
			}
			if concord.IsCancellation(err) || !predicate(ctx, err, attempt) {
				return err
			}
		}
	})
}
