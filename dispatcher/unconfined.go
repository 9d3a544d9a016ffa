package dispatcher

import (
	"sync"

	"github.com/joeycumines/go-eventloop"
)

// Unconfined runs a Runnable on whatever goroutine calls Dispatch, forming a
// thread-local event loop for any Runnable it resumes in turn: if resuming
// one continuation synchronously triggers another Unconfined dispatch
// before the first returns, the nested dispatch is queued rather than
// recursing, exactly as kotlinx.coroutines' Dispatchers.Unconfined avoids
// unbounded call-stack growth under deep nesting (spec.md §4.3).
//
// The per-goroutine queue is the teacher pack's eventloop.ChunkedIngress
// (github.com/joeycumines/go-eventloop): a chunked linked-list task queue
// designed for exactly this "cheap push/pop on the thread that owns it"
// shape.
var Unconfined Dispatcher = &unconfinedDispatcher{}

type unconfinedDispatcher struct {
	loops sync.Map // Token -> *eventloop.ChunkedIngress
}

func (d *unconfinedDispatcher) Name() string { return "Unconfined" }

// Token approximates Go's lack of real goroutine-local storage: the
// coroutine builder creates one Token per logical "stack" (a top-level
// Launch/Async/SupervisorScope call), threads it through Context, and hands
// the same Token to every nested Unconfined dispatch issued while running on
// it, so they all share one queue instead of recursing.
type Token = *int

// NewToken allocates a fresh Token identifying one logical Unconfined stack.
func NewToken() Token {
	t := new(int)
	return t
}

// ReentrantDispatcher is implemented by dispatchers whose Dispatch needs a
// caller-supplied Token to guard against unbounded recursion (spec.md
// §4.3's Unconfined event loop). The coroutine builder type-asserts for
// this interface and routes through DispatchOn instead of Dispatch whenever
// it has a Token in scope.
type ReentrantDispatcher interface {
	Dispatcher
	DispatchOn(token Token, fn Runnable)
}

func loopFor(d *unconfinedDispatcher, token Token) *eventloop.ChunkedIngress {
	if v, ok := d.loops.Load(token); ok {
		return v.(*eventloop.ChunkedIngress)
	}
	q := eventloop.NewChunkedIngress()
	actual, _ := d.loops.LoadOrStore(token, q)
	return actual.(*eventloop.ChunkedIngress)
}

// Dispatch runs fn immediately: Unconfined has no dispatch delay, per
// spec.md ("immediately executes ... until its first suspension point in
// the current thread"). Calling Dispatch directly, without a Token, gets no
// reentrancy guard — the coroutine builder never does this; it always
// resolves a Token first and calls DispatchOn, which is what actually
// prevents the unbounded-recursion case spec.md §4.3/§9 calls out.
func (d *unconfinedDispatcher) Dispatch(fn Runnable) {
	fn()
}

// DispatchOn runs fn on the event loop identified by token: if token's loop
// is already draining (a Runnable dispatched via this same token is
// executing further up the call stack), fn is enqueued and picked up by
// that drain loop instead of recursing.
func (d *unconfinedDispatcher) DispatchOn(token Token, fn Runnable) {
	q := loopFor(d, token)
	q.Push(fn)
	if !running.CompareAndSwap(token, true) {
		return // another frame on this token is already draining the queue
	}
	defer running.Delete(token)
	for {
		task, ok := q.Pop()
		if !ok {
			return
		}
		task()
	}
}

var running runningSet

type runningSet struct{ m sync.Map }

func (r *runningSet) CompareAndSwap(token Token, want bool) bool {
	_, loaded := r.m.LoadOrStore(token, want)
	return !loaded
}

func (r *runningSet) Delete(token Token) { r.m.Delete(token) }

func (d *unconfinedDispatcher) Close() {}
