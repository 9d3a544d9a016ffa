// Package selectop implements spec.md §4.7's select expression: suspend
// until exactly one of several clauses is ready, running only that
// clause's body. A clause never performs its channel effect unless it
// wins: OnReceive/OnSend try every clause's channel in order first (so a
// clause that's already satisfiable decides immediately and the rest are
// never touched), and if none are, every clause parks its suspension
// behind one shared decision — a single atomic compare-and-swap that every
// channel's rendezvous must win before committing a value to a parked
// clause (concord/channel's ParkSend/ParkReceive). Whichever clause a peer
// resumes first claims the decision; every other clause is cancelled
// before its own rendezvous can ever commit, so a loser never consumes
// (spec.md §4.7 step 4; Testable Property 5). This is the same
// try/commit split CancellableContinuation already exposes via
// TryResume/CompleteResume for exactly this purpose, just applied across
// every clause at once instead of within a single continuation.
package selectop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/concord-rt/concord"
)

// Clause is one arm of a Run call: given ctx and claim (the shared
// decision this Run call races all its clauses against), it either decides
// immediately (decided=true, value/err final) or registers its suspension
// and hands back a parkedClause for Run to await or abandon.
type Clause[R any] func(ctx concord.Context, claim func() bool) (value R, err error, decided bool, parked parkedClause[R])

// parkedClause is what a Clause hands back when it couldn't decide
// immediately: await blocks until the clause is resumed or cancelled,
// cancel abandons it (a no-op if it already decided).
type parkedClause[R any] struct {
	await  func() (R, error)
	cancel func(cause error)
}

// Run races every clause against ctx's Job. Clauses are tried in order for
// an immediate decision first: if one is already satisfiable, it wins
// outright and no other clause's channel is ever touched. Otherwise every
// clause parks, and the first one a peer resumes wins the shared decision;
// every other clause is cancelled before its own rendezvous can commit.
func Run[R any](ctx concord.Context, clauses ...Clause[R]) (R, error) {
	if len(clauses) == 0 {
		panic("concord/selectop: Run requires at least one clause")
	}

	var decision atomic.Int32
	decision.Store(-1)
	claimFor := func(i int) func() bool {
		return func() bool { return decision.CompareAndSwap(-1, int32(i)) }
	}

	parked := make([]parkedClause[R], 0, len(clauses))
	for i, clause := range clauses {
		v, err, decided, p := clause(ctx, claimFor(i))
		if decided {
			for _, q := range parked {
				q.cancel(&concord.CancellationException{})
			}
			return v, err
		}
		parked = append(parked, p)
	}

	type outcome struct {
		idx   int
		value R
		err   error
	}
	results := make(chan outcome, len(parked))
	for i, p := range parked {
		go func(i int, p parkedClause[R]) {
			v, err := p.await()
			select {
			case results <- outcome{idx: i, value: v, err: err}:
			default:
			}
		}(i, p)
	}

	out := <-results
	for i, p := range parked {
		if i != out.idx {
			p.cancel(&concord.CancellationException{})
		}
	}
	return out.value, out.err
}

func zeroR[R any]() R {
	var zero R
	return zero
}

// OnReceive builds a Clause that receives from ch and runs handle on the
// outcome (spec.md §4.7's onReceive). ch's waiter carries Run's shared
// decision, so a losing OnReceive clause never dequeues a value.
func OnReceive[E, R any](ch interface {
	ParkReceive(ctx concord.Context, claim func() bool) (concord.Result[E], bool, *concord.CancellableContinuation[E])
}, handle func(E, error) R) Clause[R] {
	return func(ctx concord.Context, claim func() bool) (R, error, bool, parkedClause[R]) {
		result, decided, cont := ch.ParkReceive(ctx, claim)
		if decided {
			v, err := result.Unwrap()
			return handle(v, err), nil, true, parkedClause[R]{}
		}
		return zeroR[R](), nil, false, parkedClause[R]{
			await: func() (R, error) {
				v, err := cont.Await().Unwrap()
				return handle(v, err), nil
			},
			cancel: func(cause error) { cont.Cancel(cause) },
		}
	}
}

// OnSend builds a Clause that sends v on ch and runs handle on the outcome
// (spec.md §4.7's onSend). Mirrors OnReceive's try-then-park protocol.
func OnSend[E, R any](ch interface {
	ParkSend(ctx concord.Context, v E, claim func() bool) (error, bool, *concord.CancellableContinuation[struct{}])
}, v E, handle func(error) R) Clause[R] {
	return func(ctx concord.Context, claim func() bool) (R, error, bool, parkedClause[R]) {
		err, decided, cont := ch.ParkSend(ctx, v, claim)
		if decided {
			return handle(err), nil, true, parkedClause[R]{}
		}
		return zeroR[R](), nil, false, parkedClause[R]{
			await: func() (R, error) {
				_, err := cont.Await().Unwrap()
				return handle(err), nil
			},
			cancel: func(cause error) { cont.Cancel(cause) },
		}
	}
}

// OnTimeout builds a Clause that fires handle after d, used as a select
// arm alongside channel clauses to bound how long Run waits overall. A
// timer has no channel effect to protect, so it always parks; when it
// fires it claims the shared decision itself, exactly like a channel
// clause's rendezvous claiming it from inside concord/channel.
func OnTimeout[R any](d time.Duration, handle func() R) Clause[R] {
	return func(ctx concord.Context, claim func() bool) (R, error, bool, parkedClause[R]) {
		timer := time.NewTimer(d)
		abort := make(chan struct{})
		var once sync.Once
		cancel := func(error) {
			once.Do(func() {
				timer.Stop()
				close(abort)
			})
		}
		var done <-chan struct{}
		if job, ok := concord.JobOf(ctx); ok {
			done = job.Done()
		}
		await := func() (R, error) {
			for {
				select {
				case <-timer.C:
					if claim() {
						return handle(), nil
					}
					// Lost the decision the instant the timer fired;
					// Run is about to cancel us, so wait for abort.
					continue
				case <-abort:
					return zeroR[R](), ctxCancelled(ctx)
				case <-done:
					return zeroR[R](), ctxCancelled(ctx)
				}
			}
		}
		return zeroR[R](), nil, false, parkedClause[R]{await: await, cancel: cancel}
	}
}

func ctxCancelled(ctx concord.Context) error {
	if job, ok := concord.JobOf(ctx); ok {
		return &concord.CancellationException{Job: job.Name()}
	}
	return &concord.CancellationException{}
}
