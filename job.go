package concord

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/concord-rt/concord/metrics"
)

// Phase is a Job's position in the state machine of spec.md §3/§4.4:
//
//	New -> Active -> Completing -> Completed
//	              \-> Cancelling -> Cancelled
type Phase int8

const (
	PhaseNew Phase = iota
	PhaseActive
	PhaseCompleting
	PhaseCancelling
	PhaseCancelled
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "New"
	case PhaseActive:
		return "Active"
	case PhaseCompleting:
		return "Completing"
	case PhaseCancelling:
		return "Cancelling"
	case PhaseCancelled:
		return "Cancelled"
	case PhaseCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

func (p Phase) terminal() bool { return p == PhaseCancelled || p == PhaseCompleted }

// completionHandle is returned by Job.InvokeOnCompletion; Dispose removes
// the handler before it fires, if it hasn't fired yet.
type completionHandle struct {
	job  *Job
	node *handlerNode
}

// Dispose removes the handler. A no-op once the handler has already run or
// the handle was returned for an already-terminal Job (invoke_immediately).
func (h completionHandle) Dispose() {
	if h.job == nil || h.node == nil {
		return
	}
	h.job.removeHandler(h.node)
}

type handlerNode struct {
	onCancelling bool
	fn           func(cause error)
	fired        bool
	prev, next   *handlerNode
}

// Job is a node in the supervision tree (spec.md §3/§4.4). The zero Job is
// not usable; construct one with NewJob or via the coroutine builder
// (Launch/Async), which parents it automatically.
//
// Job's state transitions are guarded by a single mutex rather than a
// lock-free CAS chain: the state-cell-as-tagged-union design in spec.md §9
// is deliberately not reproduced bit-for-bit here (see DESIGN.md) because
// the tree mutations (child linking, handler list insertion) are coarse and
// a mutex makes the completion algorithm (§4.4) far easier to get right.
// CancellableContinuation, where the CAS race is genuinely a single-word
// decision with no tree structure attached, does use an atomic CAS loop.
type Job struct {
	id   string
	name string

	supervisor bool // SupervisorJob: child failure never cancels parent/siblings

	mu          sync.Mutex
	phase       Phase
	cause       *CancellationException // set once Cancelling/Cancelled, propagated to children
	selfErr     error                  // this Job's own non-cancellation failure, if any
	fail        error                  // terminal error recorded at completion (selfErr or cause)
	parent      *Job
	children    map[*Job]struct{}
	handlers    *handlerNode // doubly linked list head (registration order)
	waiters     []chan struct{}
	doneCh      chan struct{}
	localHandler CoroutineExceptionHandler
	ctx          Context // bound by bindContext; used to look up a context-carried handler

	// lazyStart, if set, is the dispatch thunk for a StartLazy coroutine
	// (builder.go): Start runs it exactly once, the first time the Job
	// transitions out of New.
	lazyStart func()
}

// NewJob creates a standalone root Job in phase New, optionally parented.
// A nil parent produces a root of its own supervision tree.
func NewJob(parent *Job) *Job {
	return newJob(parent, false)
}

// NewSupervisorJob creates a root Job whose children's failures never
// cancel it or their siblings (spec.md §3, SupervisorJob).
func NewSupervisorJob(parent *Job) *Job {
	return newJob(parent, true)
}

func newJob(parent *Job, supervisor bool) *Job {
	j := &Job{
		id:         uuid.Must(uuid.NewV7()).String(),
		phase:      PhaseNew,
		supervisor: supervisor,
		children:   make(map[*Job]struct{}),
	}
	if parent != nil {
		parent.addChild(j)
	}
	metrics.JobsActive().Add(1)
	return j
}

// ID returns the Job's diagnostic UUIDv7 identifier.
func (j *Job) ID() string { return j.id }

// Name returns the Job's diagnostic name, or "" if none was set.
func (j *Job) Name() string { return j.name }

// SetName sets the Job's diagnostic name. Not safe for concurrent use with
// Name; callers set it once, immediately after construction.
func (j *Job) SetName(name string) { j.name = name }

// Phase returns the current phase.
func (j *Job) Phase() Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

// IsActive reports whether the Job can still do work: true only in phase
// Active or Completing (cancellation monotonicity, spec.md invariant 2 — once
// Cancelling, IsActive is false and never flips back).
func (j *Job) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase == PhaseActive || j.phase == PhaseCompleting
}

// IsCompleted reports whether the Job reached a terminal phase.
func (j *Job) IsCompleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase.terminal()
}

// IsCancelled reports whether the Job's terminal phase is Cancelled.
func (j *Job) IsCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase == PhaseCancelled
}

// Start transitions New -> Active, running a StartLazy coroutine's pending
// dispatch thunk exactly once if one is registered. A no-op that returns
// true if already Active/Completing; returns false if already Cancelling or
// terminal.
func (j *Job) Start() bool {
	j.mu.Lock()
	if j.phase != PhaseNew {
		active := j.phase == PhaseActive || j.phase == PhaseCompleting
		j.mu.Unlock()
		return active
	}
	j.phase = PhaseActive
	fn := j.lazyStart
	j.lazyStart = nil
	j.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// addChild links child under j. If j is already Cancelling or past it, the
// child is cancelled with j's cause before being linked at all — this is
// the race-free parent/child coupling required by spec.md §4.4: both
// operations are performed while holding j.mu, so no window exists where a
// child is linked under a cancelling parent without itself being cancelled.
func (j *Job) addChild(child *Job) {
	j.mu.Lock()
	child.parent = j
	phase := j.phase
	var cause *CancellationException
	if phase == PhaseCancelling || phase == PhaseCancelled {
		cause = j.cause
	}
	if cause == nil {
		j.children[child] = struct{}{}
	}
	j.mu.Unlock()

	if cause != nil {
		child.Cancel(cause)
		return
	}
	// Install a removal hook so the child detaches itself from the parent's
	// child set on completion (spec.md §3: "disposable handle that removes
	// it from the parent on completion"), and, for a non-supervisor parent,
	// propagates a child's real failure into the parent (spec.md §4.4:
	// a failing child cancels its siblings and its parent).
	child.InvokeOnCompletion(false, false, func(error) {
		j.removeChild(child)
		if !j.supervisor {
			if err := child.FailureOrNil(); err != nil && !IsCancellation(err) {
				j.onChildFailed(err)
			}
		}
	})
}

// FailureOrNil returns the non-cancellation error this Job's own body
// failed with, or nil if it completed successfully, was cancelled, or
// hasn't terminated yet.
func (j *Job) FailureOrNil() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase == PhaseCompleted {
		return j.fail
	}
	return nil
}

// onChildFailed reacts to a child's real (non-cancellation) failure by
// cancelling this Job's remaining children with that failure as cause, and
// recording it as this Job's own terminal failure once they drain.
func (j *Job) onChildFailed(err error) {
	j.mu.Lock()
	switch j.phase {
	case PhaseCompleted, PhaseCancelled:
		j.mu.Unlock()
		return
	case PhaseCancelling:
		if j.cause != nil {
			j.cause.addSuppressed(err)
		}
		j.mu.Unlock()
		return
	}
	if j.selfErr == nil {
		j.selfErr = err
	}
	ce := &CancellationException{Cause: err, Job: j.displayName()}
	j.phase = PhaseCancelling
	j.cause = ce
	children := snapshotChildren(j.children)
	noChildren := len(j.children) == 0
	j.mu.Unlock()

	j.fireCancellingHandlers(ce)
	for _, c := range children {
		c.Cancel(ce)
	}
	if noChildren {
		j.finishSelfFailed()
	}
}

func (j *Job) removeChild(child *Job) {
	j.mu.Lock()
	delete(j.children, child)
	phase := j.phase
	pending := phase == PhaseCompleting || phase == PhaseCancelling
	empty := len(j.children) == 0
	j.mu.Unlock()
	if pending && empty {
		j.tryFinishFromChildren()
	}
}

// Cancel moves the Job into Cancelling with cause (or keeps it there,
// attaching cause as suppressed if the Job was already cancelling/cancelled
// — spec.md invariant 9, idempotent cancel). Every Active child is then
// cancelled with the same cause. If the Job has no children it proceeds
// straight to Cancelled. Cancel on an already-Completed Job is a no-op.
func (j *Job) Cancel(cause error) {
	j.mu.Lock()
	switch j.phase {
	case PhaseCompleted:
		j.mu.Unlock()
		return
	case PhaseCancelled:
		j.cause.addSuppressed(cause)
		j.mu.Unlock()
		return
	case PhaseCancelling:
		j.cause.addSuppressed(cause)
		j.mu.Unlock()
		return
	}
	ce := &CancellationException{Cause: cause, Job: j.displayName()}
	j.phase = PhaseCancelling
	j.cause = ce
	children := make([]*Job, 0, len(j.children))
	for c := range j.children {
		children = append(children, c)
	}
	noChildren := len(j.children) == 0
	j.mu.Unlock()

	j.fireCancellingHandlers(ce)

	for _, c := range children {
		c.Cancel(ce)
	}

	if noChildren {
		j.finishCancelled()
	}
}

func (j *Job) displayName() string {
	if j.name != "" {
		return j.name
	}
	return j.id
}

// Complete finishes the Job's own body successfully or with err. This
// drives the completion algorithm of spec.md §4.4: a non-cancellation err
// both becomes this Job's terminal failure AND the cause used to cancel
// every child (failure of one child brings down its non-supervisor
// siblings); a nil or CancellationException err waits for children to
// drain on their own before finishing normally. Complete is idempotent: a
// second call is ignored once this Job has left Active.
func (j *Job) Complete(err error) {
	j.mu.Lock()
	if j.phase != PhaseActive {
		j.mu.Unlock()
		return
	}

	if err != nil && !IsCancellation(err) {
		j.selfErr = err
		j.phase = PhaseCancelling
		ce := &CancellationException{Cause: err, Job: j.displayName()}
		j.cause = ce
		children := snapshotChildren(j.children)
		noChildren := len(j.children) == 0
		j.mu.Unlock()

		j.fireCancellingHandlers(ce)
		for _, c := range children {
			c.Cancel(ce)
		}
		if noChildren {
			j.finishSelfFailed()
		}
		return
	}

	j.phase = PhaseCompleting
	j.fail = err
	hasChildren := len(j.children) > 0
	j.mu.Unlock()

	if hasChildren {
		return // finishes later, driven by removeChild as children complete
	}
	j.finishCompleting()
}

func snapshotChildren(m map[*Job]struct{}) []*Job {
	out := make([]*Job, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// tryFinishFromChildren attempts to finish a Job sitting in Completing or
// Cancelling once all its children have detached.
func (j *Job) tryFinishFromChildren() {
	j.mu.Lock()
	phase := j.phase
	selfFailed := j.selfErr != nil
	empty := len(j.children) == 0
	j.mu.Unlock()
	if !empty {
		return
	}
	switch {
	case phase == PhaseCompleting:
		j.finishCompleting()
	case phase == PhaseCancelling && selfFailed:
		j.finishSelfFailed()
	case phase == PhaseCancelling:
		j.finishCancelled()
	}
}

// finishCompleting transitions a successfully-finished Job (no self failure,
// not externally cancelled) to Completed.
func (j *Job) finishCompleting() {
	j.mu.Lock()
	if j.phase != PhaseCompleting {
		j.mu.Unlock()
		return
	}
	primary := j.fail
	j.mu.Unlock()
	j.complete(PhaseCompleted, primary)
}

// finishSelfFailed transitions a Job whose own body failed (spec.md §4.4
// step 3: its terminal error is the original failure, not the
// CancellationException used to tear down its children).
func (j *Job) finishSelfFailed() {
	j.mu.Lock()
	if j.phase != PhaseCancelling || j.selfErr == nil {
		j.mu.Unlock()
		return
	}
	err := j.selfErr
	j.mu.Unlock()
	j.complete(PhaseCompleted, err)
}

// finishCancelled transitions an externally-cancelled Job (spec.md Cancel)
// to Cancelled, once every child has drained.
func (j *Job) finishCancelled() {
	j.mu.Lock()
	if j.phase != PhaseCancelling || j.selfErr != nil {
		j.mu.Unlock()
		return
	}
	ce := j.cause
	j.mu.Unlock()
	j.complete(PhaseCancelled, ce)
}

func (j *Job) complete(phase Phase, err error) {
	j.mu.Lock()
	if j.phase.terminal() {
		j.mu.Unlock()
		return
	}
	j.phase = phase
	j.fail = err
	handlers := j.drainHandlers()
	waiters := j.waiters
	j.waiters = nil
	j.mu.Unlock()

	metrics.JobsActive().Add(-1)
	metrics.JobsCompleted().Add(1)

	for _, h := range handlers {
		j.invokeHandlerSafely(h, err)
	}
	for _, w := range waiters {
		close(w)
	}

	if phase == PhaseCompleted && err != nil && !IsCancellation(err) {
		j.reportUnhandled(err)
	}
}

func (j *Job) reportUnhandled(err error) {
	if handler, ok := j.findHandler(); ok {
		handler(WithJob(Background(), j), err)
		return
	}
	UnhandledExceptionReporter(WithJob(Background(), j), newTaggedError(err, j.id, j.name))
}

// findHandler implements spec.md §4.4/§7's lookup: "the first Job up the
// parent chain whose context carries a handler wins." Each Job's bound
// Context (set via bindContext when it's launched) is checked for a
// HandlerKey element before falling back to a handler installed directly
// via SetExceptionHandler, so both WithExceptionHandler(ctx, h) and the
// imperative API are honored.
func (j *Job) findHandler() (CoroutineExceptionHandler, bool) {
	for p := j; p != nil; p = p.parent {
		if h, ok := HandlerOf(p.ctx); ok && h != nil {
			return h, true
		}
		if h := p.localHandler; h != nil {
			return h, true
		}
	}
	return nil, false
}

// bindContext records the Context a Job was launched with, so findHandler
// can walk the parent chain and consult each Job's own
// CoroutineExceptionHandler element (spec.md §4.4). Called once by the
// coroutine builder right after the Job's Context is constructed.
func (j *Job) bindContext(ctx Context) { j.ctx = ctx }

// InvokeOnCompletion registers handler to run when the Job reaches the
// matching terminal condition (spec.md §4.4):
//   - onCancelling=true: fires as soon as the Job enters Cancelling (for
//     resource release that shouldn't wait on children), or at final
//     termination if the Job never entered Cancelling.
//   - onCancelling=false: fires only at final termination (Completed or
//     Cancelled), after child aggregation.
//
// If the Job is already in the matching state, handler fires inline
// (unless invokeImmediately is false) and a no-op handle is returned.
func (j *Job) InvokeOnCompletion(onCancelling, invokeImmediately bool, handler func(cause error)) completionHandle {
	j.mu.Lock()
	phase := j.phase
	if onCancelling && (phase == PhaseCancelling || phase.terminal()) {
		cause := j.terminalCause()
		j.mu.Unlock()
		if invokeImmediately {
			j.invokeHandlerSafely(handler, cause)
		}
		return completionHandle{}
	}
	if !onCancelling && phase.terminal() {
		cause := j.fail
		j.mu.Unlock()
		if invokeImmediately {
			j.invokeHandlerSafely(handler, cause)
		}
		return completionHandle{}
	}
	node := &handlerNode{onCancelling: onCancelling, fn: handler}
	j.pushHandler(node)
	j.mu.Unlock()
	return completionHandle{job: j, node: node}
}

func (j *Job) terminalCause() error {
	if j.cause != nil {
		return j.cause
	}
	return j.fail
}

func (j *Job) pushHandler(node *handlerNode) {
	node.next = j.handlers
	if j.handlers != nil {
		j.handlers.prev = node
	}
	j.handlers = node
}

func (j *Job) removeHandler(node *handlerNode) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if node.fired {
		return
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else if j.handlers == node {
		j.handlers = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
	node.fired = true // mark disposed so it can't double-fire
}

// drainHandlers returns every handler that has not fired yet (on-cancelling
// ones included) in registration order (oldest last pushed -> iterate
// reversed) and clears the list.
// Registration order is preserved by walking from the tail.
func (j *Job) drainHandlers() []func(error) {
	var nodes []*handlerNode
	for n := j.handlers; n != nil; n = n.next {
		if !n.fired {
			nodes = append(nodes, n)
		}
	}
	j.handlers = nil
	out := make([]func(error), 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].fired = true
		out = append(out, nodes[i].fn)
	}
	return out
}

func (j *Job) fireCancellingHandlers(cause error) {
	j.mu.Lock()
	var nodes []*handlerNode
	for n := j.handlers; n != nil; n = n.next {
		if n.onCancelling && !n.fired {
			nodes = append(nodes, n)
		}
	}
	for _, n := range nodes {
		n.fired = true
	}
	j.mu.Unlock()
	for i := len(nodes) - 1; i >= 0; i-- {
		j.invokeHandlerSafely(nodes[i].fn, cause)
	}
}

func (j *Job) invokeHandlerSafely(fn func(error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			j.reportUnhandled(fmt.Errorf("completion handler panicked: %v", r))
		}
	}()
	fn(cause)
}

// Join suspends the calling goroutine until the Job reaches a terminal
// state, first triggering a StartLazy coroutine's pending dispatch if it
// hasn't started yet (spec.md §6). Unlike Deferred.Await, Join never
// propagates the Job's failure; it only reports completion (spec.md §4.4
// "await (Deferred)" vs "join").
func (j *Job) Join() {
	j.Start()
	ch := j.terminalChannel()
	if ch == nil {
		return
	}
	<-ch
}

// Done returns a channel closed once the Job reaches a terminal state,
// mirroring context.Context's Done() so Select clauses (concord/selectop)
// can wait on Job termination with Go's native select statement.
func (j *Job) Done() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.doneCh == nil {
		j.doneCh = make(chan struct{})
		if j.phase.terminal() {
			close(j.doneCh)
		} else {
			j.waiters = append(j.waiters, j.doneCh)
		}
	}
	return j.doneCh
}

// terminalChannel returns a channel closed when the Job terminates, or nil
// if it already has.
func (j *Job) terminalChannel() chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phase.terminal() {
		return nil
	}
	ch := make(chan struct{})
	j.waiters = append(j.waiters, ch)
	return ch
}

// Parent returns the Job's parent, or nil for a root Job.
func (j *Job) Parent() *Job { return j.parent }

// localHandler is a per-Job override of CoroutineExceptionHandler lookup
// without requiring a Context round-trip; SetExceptionHandler installs it.
func (j *Job) SetExceptionHandler(h CoroutineExceptionHandler) { j.localHandler = h }
