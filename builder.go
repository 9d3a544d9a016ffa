package concord

import (
	"github.com/concord-rt/concord/dispatcher"
)

// StartMode controls how a coroutine started by Launch/Async behaves up
// until its body starts running (spec.md §6). It is grounded on
// original_source's CoroutineStart.hpp; after the body starts, suspension
// points behave the same regardless of StartMode.
type StartMode int

const (
	// StartDefault immediately schedules the coroutine on its Dispatcher.
	// If its Job is cancelled before the Dispatcher runs it, it never
	// starts and is reported Cancelled.
	StartDefault StartMode = iota

	// StartLazy only creates the Job; the body is scheduled the first time
	// the Job is joined/awaited or Job.Start is called explicitly.
	StartLazy

	// StartAtomic schedules the coroutine like StartDefault, but guarantees
	// the body starts running even if the Job was already cancelled before
	// dispatch (cancellation still applies once the body observes it via a
	// suspension point).
	StartAtomic

	// StartUndispatched runs the body synchronously on the calling
	// goroutine, so Launch/Async return only once the body has finished.
	// The body never moves to the Context's Dispatcher: its suspension
	// points block the calling goroutine.
	StartUndispatched
)

// coroutineScope is the internal state every Launch/Async coroutine runs
// with: its own Job (parented into the caller's), the resolved Dispatcher,
// and the Context it was built from.
type coroutineScope struct {
	ctx   Context
	job   *Job
	d     dispatcher.Dispatcher
	token dispatcher.Token // non-nil only when d is a dispatcher.ReentrantDispatcher
}

// newScope builds a child coroutineScope for a new coroutine launched from ctx
// (spec.md §6): job is a new Job parented under ctx's Job (or a fresh root
// if ctx carries none), and Dispatcher is resolved from ctx, defaulting to
// dispatcher.Default.
func newScope(ctx Context, supervisor bool) coroutineScope {
	var parent *Job
	if j, ok := JobOf(ctx); ok {
		parent = j
	}
	var job *Job
	if supervisor {
		job = NewSupervisorJob(parent)
	} else {
		job = NewJob(parent)
	}
	d := dispatcherOf(ctx)
	scopeCtx := WithJob(ctx, job)

	var token dispatcher.Token
	if _, ok := d.(dispatcher.ReentrantDispatcher); ok {
		if t, ok := unconfinedTokenOf(ctx); ok {
			// Nested Launch/Async on the same logical Unconfined stack
			// (e.g. one launched from inside another's body): share the
			// existing token so they drain the same queue instead of
			// recursing (spec.md §4.3).
			token = t
		} else {
			token = dispatcher.NewToken()
		}
		scopeCtx = withUnconfinedToken(scopeCtx, token)
	}

	job.bindContext(scopeCtx)
	return coroutineScope{ctx: scopeCtx, job: job, d: d, token: token}
}

// dispatch hands fn to the scope's Dispatcher, routing through DispatchOn
// with the scope's Token when the Dispatcher needs one to guard against
// reentrant recursion (dispatcher.Unconfined, spec.md §4.3).
func (scope coroutineScope) dispatch(fn dispatcher.Runnable) {
	if rd, ok := scope.d.(dispatcher.ReentrantDispatcher); ok {
		rd.DispatchOn(scope.token, fn)
		return
	}
	scope.d.Dispatch(fn)
}

type unconfinedTokenKeyType struct{}

func (unconfinedTokenKeyType) contextKey() {}

var unconfinedTokenKey Key = unconfinedTokenKeyType{}

type unconfinedTokenElement struct{ token dispatcher.Token }

func (unconfinedTokenElement) Key() Key { return unconfinedTokenKey }

func unconfinedTokenOf(ctx Context) (dispatcher.Token, bool) {
	if ctx == nil {
		return nil, false
	}
	e, ok := ctx.Get(unconfinedTokenKey)
	if !ok {
		return nil, false
	}
	el, ok := e.(unconfinedTokenElement)
	if !ok {
		return nil, false
	}
	return el.token, true
}

func withUnconfinedToken(ctx Context, token dispatcher.Token) Context {
	return WithElement(ctx, unconfinedTokenElement{token: token})
}

func dispatcherOf(ctx Context) dispatcher.Dispatcher {
	if ctx != nil {
		if e, ok := ctx.Get(DispatcherKey); ok {
			if de, ok := e.(dispatcherElement); ok {
				return de.d
			}
		}
	}
	return dispatcher.Default
}

type dispatcherElement struct{ d dispatcher.Dispatcher }

func (dispatcherElement) Key() Key { return DispatcherKey }

// WithDispatcher returns ctx with d registered as the active Dispatcher.
func WithDispatcher(ctx Context, d dispatcher.Dispatcher) Context {
	return WithElement(ctx, dispatcherElement{d: d})
}

// Launch starts a new child coroutine running body and returns its Job
// (spec.md §6). body receives the launched coroutine's own Context (carrying
// its Job), so nested Launch/Async calls parent correctly.
func Launch(ctx Context, start StartMode, body func(ctx Context)) *Job {
	scope := newScope(ctx, false)
	runBody := func() {
		defer func() {
			if r := recover(); r != nil {
				scope.job.Complete(panicToErr(r))
				return
			}
		}()
		body(scope.ctx)
		scope.job.Complete(nil)
	}
	startCoroutine(scope, start, runBody)
	return scope.job
}

// SupervisorScope runs body with a Context whose Job is a SupervisorJob: a
// failing child cancels neither its siblings nor the scope's own Job
// (spec.md §3 SupervisorJob). SupervisorScope blocks until every child
// Launched from the supplied Context has completed.
func SupervisorScope(ctx Context, body func(ctx Context)) {
	scope := newScope(ctx, true)
	scope.job.Start()
	func() {
		defer func() {
			if r := recover(); r != nil {
				scope.job.Complete(panicToErr(r))
			}
		}()
		body(scope.ctx)
		scope.job.Complete(nil)
	}()
	scope.job.Join()
}

// Deferred is a Job that also carries a typed result (spec.md §3): Await
// suspends until the body completes and returns its value or propagates its
// failure, unlike Job.Join which never propagates.
type Deferred[T any] struct {
	*Job
	cont *CancellableContinuation[T]
}

// Async starts a new child coroutine computing a T and returns a Deferred
// handle to it (spec.md §6).
func Async[T any](ctx Context, start StartMode, body func(ctx Context) (T, error)) *Deferred[T] {
	scope := newScope(ctx, false)
	cont := NewCancellableContinuation[T](scope.job)
	runBody := func() {
		var (
			v   T
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = panicToErr(r)
				}
			}()
			v, err = body(scope.ctx)
		}()
		if err != nil {
			cont.ResumeWithException(err)
			scope.job.Complete(err)
			return
		}
		cont.Resume(v)
		scope.job.Complete(nil)
	}
	startCoroutine(scope, start, runBody)
	return &Deferred[T]{Job: scope.job, cont: cont}
}

// Await suspends the calling goroutine until the Deferred's body finishes,
// returning its value or the error it failed with (including a
// CancellationException if the Deferred was cancelled before producing a
// value).
func (d *Deferred[T]) Await() (T, error) {
	d.Job.Start()
	return d.cont.Await().Unwrap()
}

func startCoroutine(scope coroutineScope, start StartMode, runBody func()) {
	switch start {
	case StartLazy:
		scope.job.lazyStart = func() {
			scope.dispatch(runBody)
		}
		return
	case StartUndispatched:
		scope.job.Start()
		runBody()
		return
	case StartAtomic:
		scope.job.Start()
		scope.dispatch(runBody)
		return
	default: // StartDefault
		if !scope.job.Start() {
			return // already cancelled before it could start
		}
		scope.dispatch(func() {
			if !scope.job.IsActive() {
				return // cancelled after dispatch, before the body ran
			}
			runBody()
		})
	}
}

func panicToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{value: r}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return "concord: coroutine panicked: " + toString(e.value) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}
