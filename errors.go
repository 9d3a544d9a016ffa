package concord

import (
	"errors"
	"fmt"
	"time"
)

// Namespace prefixes every sentinel error message, mirroring the teacher's
// Namespace-prefixed sentinel convention (errors.go).
const Namespace = "concord"

// Sentinel errors for illegal-state programmer mistakes (spec.md §7): these
// are thrown immediately and indicate a bug in the integration, never a
// runtime failure to be retried.
var (
	ErrDoubleResume          = errors.New(Namespace + ": continuation resumed more than once")
	ErrHandlerAfterComplete  = errors.New(Namespace + ": cancellation handler installed after completion")
	ErrDuplicateHandler      = errors.New(Namespace + ": a cancellation handler is already installed")
	ErrJobNotActive          = errors.New(Namespace + ": job is not active")
	ErrAlreadySelected       = errors.New(Namespace + ": select clause committed after the select already resolved")
	ErrReusableClaimViolated = errors.New(Namespace + ": resumed a reusable continuation outside its claim")
	ErrIteratorExhausted     = errors.New(Namespace + ": channel iterator Next called without a prior true HasNext")
)

// CancellationException is the control-flow signal raised at a suspension
// point inside a cancelled Job. Per spec.md §7 it is never reported to a
// CoroutineExceptionHandler and is treated as a normal completion signal
// when it unwinds the coroutine whose cancellation it reflects.
//
// CancellationException is idempotent under repeated Job.Cancel calls: the
// first cause is retained as Cause and every later cause is recorded in
// Suppressed (spec.md invariant 9).
type CancellationException struct {
	// Cause is the first cancellation cause accepted by the Job.
	Cause error
	// Suppressed holds causes from later Cancel calls, in arrival order.
	Suppressed []error
	// Job names the Job this exception terminates, for diagnostics.
	Job string
}

func (e *CancellationException) Error() string {
	if e.Cause == nil {
		return Namespace + ": job " + e.Job + " was cancelled"
	}
	return fmt.Sprintf("%s: job %s was cancelled: %v", Namespace, e.Job, e.Cause)
}

func (e *CancellationException) Unwrap() error { return e.Cause }

// addSuppressed appends cause, skipping a nil or an error equal (compared
// with ==) to the one already retained as Cause.
func (e *CancellationException) addSuppressed(cause error) {
	if cause == nil || cause == e.Cause {
		return
	}
	e.Suppressed = append(e.Suppressed, cause)
}

// TimeoutCancellationException is a CancellationException subtype carrying
// the expired duration (spec.md §7); raised by WithTimeout.
type TimeoutCancellationException struct {
	*CancellationException
	Duration time.Duration
}

func (e *TimeoutCancellationException) Error() string {
	return fmt.Sprintf("%s: timed out after %s", Namespace, e.Duration)
}

func (e *TimeoutCancellationException) Unwrap() error { return e.CancellationException }

// IsCancellation reports whether err is, or wraps, a CancellationException.
func IsCancellation(err error) bool {
	var ce *CancellationException
	return errors.As(err, &ce)
}

// ClosedSendError is returned by a channel send issued after Close/Cancel.
type ClosedSendError struct{ Cause error }

func (e *ClosedSendError) Error() string {
	if e.Cause == nil {
		return Namespace + ": send on closed channel"
	}
	return fmt.Sprintf("%s: send on closed channel: %v", Namespace, e.Cause)
}
func (e *ClosedSendError) Unwrap() error { return e.Cause }

// ClosedReceiveError is returned by a channel receive once the channel is
// closed and drained of buffered values and parked senders.
type ClosedReceiveError struct{ Cause error }

func (e *ClosedReceiveError) Error() string {
	if e.Cause == nil {
		return Namespace + ": receive on closed channel"
	}
	return fmt.Sprintf("%s: receive on closed channel: %v", Namespace, e.Cause)
}
func (e *ClosedReceiveError) Unwrap() error { return e.Cause }

// CoroutineExceptionHandler receives an exception that completed a Job
// exceptionally and was not itself a CancellationException, once it has
// propagated to the first handler found walking up the Job's parent chain
// (spec.md §4.4, §7). If no handler is found anywhere in the chain, the
// exception is routed to UnhandledExceptionReporter.
type CoroutineExceptionHandler func(ctx Context, err error)

// UnhandledExceptionReporter is invoked when a Job fails exceptionally and
// no CoroutineExceptionHandler is found up its parent chain. It defaults to
// logging via concord/rtlog's package-level logger (wired in rtlog_hook.go
// to avoid an import cycle); tests may swap it to capture output.
var UnhandledExceptionReporter = func(ctx Context, err error) {
	defaultUnhandledExceptionReporter(ctx, err)
}

// taggedError wraps an error with correlation metadata (a Job ID and
// name), generalizing the teacher's TaskMetaError/taskTaggedError pattern
// (error_tagging.go) from "which task in a batch failed" to "which Job in
// the supervision tree failed".
type taggedError struct {
	err    error
	jobID  string
	jobName string
}

func newTaggedError(err error, jobID, jobName string) error {
	if err == nil {
		return nil
	}
	return &taggedError{err: err, jobID: jobID, jobName: jobName}
}

func (e *taggedError) Error() string { return e.err.Error() }
func (e *taggedError) Unwrap() error { return e.err }

// JobID returns the identifier of the Job the wrapped error originated
// from, if this error (or one it wraps) carries one.
func JobID(err error) (string, bool) {
	var te *taggedError
	if errors.As(err, &te) {
		return te.jobID, true
	}
	return "", false
}

// JobName returns the name of the Job the wrapped error originated from.
func JobName(err error) (string, bool) {
	var te *taggedError
	if errors.As(err, &te) {
		return te.jobName, true
	}
	return "", false
}
