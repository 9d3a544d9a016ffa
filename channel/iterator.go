package channel

import "github.com/concord-rt/concord"

// Iterator implements spec.md §4.6's has_next/next receive protocol: HasNext
// suspends (peeks) until an element is ready or the channel closes, caching
// whatever it finds so the following Next is a plain, non-suspending read of
// that cached value. This mirrors a `for v := range channel` loop over a Go
// channel, but as an explicit two-call protocol since Channel's suspension
// points need a Context to park against, unlike a native channel receive.
type Iterator[E any] struct {
	ch    *Channel[E]
	ctx   concord.Context
	ready bool
	value E
}

// Iterate returns an Iterator consuming c under ctx (spec.md §4.6). Every
// HasNext/Next pair it drives is indistinguishable from a direct Receive
// call as far as other senders/receivers on c are concerned.
func (c *Channel[E]) Iterate(ctx concord.Context) *Iterator[E] {
	return &Iterator[E]{ch: c, ctx: ctx}
}

// HasNext suspends until an element is available (returning true and
// caching it for Next) or the channel closes (returning false, nil). A
// close carrying a cause, or ctx's Job being cancelled while suspended, is
// reported as an error instead of a plain false, since the caller needs to
// tell "drained normally" apart from "something went wrong".
func (it *Iterator[E]) HasNext() (bool, error) {
	if it.ready {
		return true, nil
	}
	v, err := it.ch.Receive(it.ctx)
	if err != nil {
		if cre, ok := err.(*concord.ClosedReceiveError); ok && cre.Cause == nil {
			return false, nil
		}
		return false, err
	}
	it.value = v
	it.ready = true
	return true, nil
}

// Next returns the element HasNext peeked and clears the cache. Calling
// Next without HasNext having just returned true is a programmer error.
func (it *Iterator[E]) Next() E {
	if !it.ready {
		panic(concord.ErrIteratorExhausted)
	}
	v := it.value
	var zero E
	it.value = zero
	it.ready = false
	return v
}
