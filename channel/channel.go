// Package channel implements spec.md §4.6: a buffered/rendezvous channel
// with pluggable overflow policy and an OnUndeliveredElement hook, adapted
// from original_source's BufferedChannel (a segment/counter algorithm over
// condition variables) onto a Go idiom: a mutex-guarded FIFO buffer plus
// parked-continuation queues for the suspend/resume side of send and
// receive, built on concord.CancellableContinuation rather than condvars so
// a parked send or receive is itself cancellable (spec.md §4.5/§4.6).
package channel

import (
	"sync"

	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/config"
	"github.com/concord-rt/concord/metrics"
)

// OverflowPolicy governs what Send does when the buffer is full and no
// receiver is waiting (spec.md §4.6).
type OverflowPolicy int

const (
	// Suspend parks the sender until space frees up or the channel closes.
	Suspend OverflowPolicy = iota
	// DropOldest evicts the buffer's oldest element to make room.
	DropOldest
	// DropLatest discards the element being sent, keeping the buffer as is.
	DropLatest
)

// Unlimited marks a Channel with no buffer capacity ceiling: Send never
// suspends or drops (spec.md §4.6 "conceptually infinite array").
const Unlimited = -1

// DefaultCapacity marks a Channel whose capacity a builder left unspecified
// (spec.md §4.6): New resolves it to config.Active().ChannelDefaultCapacity
// at construction time rather than baking in a fixed number.
const DefaultCapacity = -2

// Channel is a typed, closable, cancellable FIFO channel.
type Channel[E any] struct {
	mu       sync.Mutex
	capacity int
	policy   OverflowPolicy
	buf      []E

	closed bool
	cause  error

	sendWaiters    []*pendingSend[E]
	receiveWaiters []*receiveWaiter[E]

	onUndelivered func(E)
	closeHandlers []func(error)
}

// pendingSend and receiveWaiter both carry an optional claim: nil for an
// ordinary Send/Receive waiter (always eligible), or a selectop.Run-owned
// CAS for a waiter registered through ParkSend/ParkReceive. The channel
// consults claim immediately before committing a rendezvous, so a clause
// that has already lost its select never has its value (or buffer slot)
// taken — this is the two-phase commit spec.md §4.7 requires: claim is the
// "try" half, and a successful claim is itself the "commit," since nothing
// else can un-claim it afterwards.
type pendingSend[E any] struct {
	value E
	cont  *concord.CancellableContinuation[struct{}]
	claim func() bool
}

type receiveWaiter[E any] struct {
	cont  *concord.CancellableContinuation[E]
	claim func() bool
}

// New creates a Channel with the given capacity (0 = rendezvous, Unlimited =
// unbounded, DefaultCapacity = config.Active().ChannelDefaultCapacity) and
// overflow policy (ignored when capacity is 0 or Unlimited: a rendezvous
// channel always suspends the sender until a receiver is ready, and an
// unlimited channel never needs to drop).
func New[E any](capacity int, policy OverflowPolicy) *Channel[E] {
	if capacity == DefaultCapacity {
		capacity = int(config.Active().ChannelDefaultCapacity)
	}
	return &Channel[E]{capacity: capacity, policy: policy}
}

// OnUndeliveredElement installs a hook invoked for every element that is
// dropped (by DropOldest/DropLatest) or never received (Cancel) instead of
// being logged via concord/rtlog (spec.md §4.6).
func (c *Channel[E]) OnUndeliveredElement(fn func(E)) {
	c.mu.Lock()
	c.onUndelivered = fn
	c.mu.Unlock()
}

func (c *Channel[E]) reportUndelivered(v E, reason string) {
	metrics.ChannelUndelivered().Add(1)
	c.mu.Lock()
	hook := c.onUndelivered
	c.mu.Unlock()
	if hook != nil {
		func() {
			defer func() { recover() }()
			hook(v)
		}()
		return
	}
	undeliveredElementReporter("channel", reason)
}

// Send enqueues v, suspending per the channel's capacity and policy
// (spec.md §4.6). Returns a *ClosedSendError if the channel is closed, or
// the Job's CancellationException if ctx's Job is cancelled while
// suspended.
func (c *Channel[E]) Send(ctx concord.Context, v E) error {
	err, decided, cont := c.ParkSend(ctx, v, nil)
	if decided {
		return err
	}
	_, err = cont.Await().Unwrap()
	return err
}

// ParkSend attempts an immediate send exactly like Send. If none is
// possible, it registers a waiter gated by claim (nil behaves like an
// ordinary Send: always eligible) and returns the parked continuation
// instead of blocking, so a caller racing several suspension points
// (selectop.Run) can abandon it before it ever delivers v. decided reports
// whether err is already final; when false, cont must be Awaited (or
// Cancelled to abandon the attempt).
func (c *Channel[E]) ParkSend(ctx concord.Context, v E, claim func() bool) (err error, decided bool, cont *concord.CancellableContinuation[struct{}]) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &concord.ClosedSendError{Cause: c.cause}, true, nil
	}
	metrics.ChannelSends().Add(1)

	if rw := c.popReadyReceiveWaiter(); rw != nil {
		c.mu.Unlock()
		if rw.cont.Resume(v) {
			return nil, true, nil
		}
		// the receiver raced a cancellation; fall through and retry.
		return c.ParkSend(ctx, v, claim)
	}

	if c.capacity == 0 {
		// Rendezvous: no buffer, no ready receiver. Suspend.
		return c.parkSendWaiter(ctx, v, claim)
	}

	if c.capacity == Unlimited || len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		c.mu.Unlock()
		return nil, true, nil
	}

	// Buffer full: apply overflow policy.
	switch c.policy {
	case DropOldest:
		var dropped E
		if len(c.buf) > 0 {
			dropped = c.buf[0]
			c.buf = c.buf[1:]
		}
		c.buf = append(c.buf, v)
		c.mu.Unlock()
		c.reportUndelivered(dropped, "drop_oldest")
		return nil, true, nil
	case DropLatest:
		c.mu.Unlock()
		c.reportUndelivered(v, "drop_latest")
		return nil, true, nil
	default: // Suspend
		return c.parkSendWaiter(ctx, v, claim)
	}
}

// parkSendWaiter assumes c.mu is held and unlocks it before returning.
func (c *Channel[E]) parkSendWaiter(ctx concord.Context, v E, claim func() bool) (error, bool, *concord.CancellableContinuation[struct{}]) {
	job, _ := concord.JobOf(ctx)
	cont := concord.NewCancellableContinuation[struct{}](job)
	ps := &pendingSend[E]{value: v, cont: cont, claim: claim}
	c.sendWaiters = append(c.sendWaiters, ps)
	cont.InvokeOnCancellation(func(error) {
		c.mu.Lock()
		for i, w := range c.sendWaiters {
			if w == ps {
				c.sendWaiters = append(c.sendWaiters[:i], c.sendWaiters[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		c.reportUndelivered(v, "cancelled")
	})
	c.mu.Unlock()
	return nil, false, cont
}

// Receive suspends until an element is available, the channel closes, or
// ctx's Job is cancelled (spec.md §4.6).
func (c *Channel[E]) Receive(ctx concord.Context) (E, error) {
	result, decided, cont := c.ParkReceive(ctx, nil)
	if decided {
		return result.Unwrap()
	}
	return cont.Await().Unwrap()
}

// ParkReceive attempts an immediate receive exactly like Receive. If none is
// available, it registers a waiter gated by claim (nil behaves like an
// ordinary Receive: always eligible) and returns the parked continuation
// instead of blocking (spec.md §4.7; mirrors ParkSend). decided reports
// whether result is already final.
func (c *Channel[E]) ParkReceive(ctx concord.Context, claim func() bool) (result concord.Result[E], decided bool, cont *concord.CancellableContinuation[E]) {
	c.mu.Lock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = c.buf[1:]
		c.wakeOneSender()
		c.mu.Unlock()
		return concord.Success(v), true, nil
	}
	if ps := c.popReadySendWaiter(); ps != nil {
		c.mu.Unlock()
		if ps.cont.Resume(struct{}{}) {
			return concord.Success(ps.value), true, nil
		}
		return c.ParkReceive(ctx, claim) // sender raced a cancellation; retry
	}
	if c.closed {
		c.mu.Unlock()
		return concord.Failure[E](&concord.ClosedReceiveError{Cause: c.cause}), true, nil
	}

	job, _ := concord.JobOf(ctx)
	waiter := concord.NewCancellableContinuation[E](job)
	c.receiveWaiters = append(c.receiveWaiters, &receiveWaiter[E]{cont: waiter, claim: claim})
	c.mu.Unlock()

	return concord.Result[E]{}, false, waiter
}

// popReadySendWaiter assumes c.mu is held. It removes and returns the first
// send waiter whose claim (if any) still wins, discarding any it passes
// over whose claim has already been lost to a peer select clause.
func (c *Channel[E]) popReadySendWaiter() *pendingSend[E] {
	for len(c.sendWaiters) > 0 {
		ps := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		if ps.claim != nil && !ps.claim() {
			continue
		}
		return ps
	}
	return nil
}

// popReadyReceiveWaiter is popReadySendWaiter's receive-side counterpart.
func (c *Channel[E]) popReadyReceiveWaiter() *receiveWaiter[E] {
	for len(c.receiveWaiters) > 0 {
		rw := c.receiveWaiters[0]
		c.receiveWaiters = c.receiveWaiters[1:]
		if rw.claim != nil && !rw.claim() {
			continue
		}
		return rw
	}
	return nil
}

// wakeOneSender assumes c.mu is held; it hands the freed buffer slot to the
// oldest eligible suspended sender, if any.
func (c *Channel[E]) wakeOneSender() {
	for {
		ps := c.popReadySendWaiter()
		if ps == nil {
			return
		}
		if ps.cont.Resume(struct{}{}) {
			c.buf = append(c.buf, ps.value)
			return
		}
	}
}

// TryReceive performs a non-suspending receive: it returns ok=false without
// blocking if no element and no sender are immediately available.
func (c *Channel[E]) TryReceive() (v E, ok bool, closedErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) > 0 {
		v = c.buf[0]
		c.buf = c.buf[1:]
		c.wakeOneSender()
		return v, true, nil
	}
	if ps := c.popReadySendWaiter(); ps != nil {
		if ps.cont.Resume(struct{}{}) {
			return ps.value, true, nil
		}
	}
	if c.closed {
		return v, false, &concord.ClosedReceiveError{Cause: c.cause}
	}
	return v, false, nil
}

// Close closes the channel for sending: pending and future Send calls fail
// with ClosedSendError; Receive continues draining the buffer, then fails
// with ClosedReceiveError. Returns false if already closed.
func (c *Channel[E]) Close(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.cause = cause
	receivers := c.receiveWaiters
	c.receiveWaiters = nil
	senders := c.sendWaiters
	c.sendWaiters = nil
	handlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	for _, r := range receivers {
		if r.claim != nil && !r.claim() {
			continue // already lost a select race; let Run's own cancel unwind it
		}
		r.cont.ResumeWithException(&concord.ClosedReceiveError{Cause: cause})
	}
	for _, s := range senders {
		if s.claim != nil && !s.claim() {
			c.reportUndelivered(s.value, "closed")
			continue
		}
		s.cont.ResumeWithException(&concord.ClosedSendError{Cause: cause})
		c.reportUndelivered(s.value, "closed")
	}
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(cause)
		}()
	}
	return true
}

// Cancel closes the channel and drops every buffered element through
// OnUndeliveredElement (spec.md §4.6 Cancel semantics).
func (c *Channel[E]) Cancel(cause error) bool {
	c.mu.Lock()
	buffered := c.buf
	c.buf = nil
	c.mu.Unlock()
	ok := c.Close(cause)
	for _, v := range buffered {
		c.reportUndelivered(v, "cancelled")
	}
	return ok
}

// InvokeOnClose registers handler to run once the channel closes, or
// immediately if it already has.
func (c *Channel[E]) InvokeOnClose(handler func(cause error)) {
	c.mu.Lock()
	if c.closed {
		cause := c.cause
		c.mu.Unlock()
		handler(cause)
		return
	}
	c.closeHandlers = append(c.closeHandlers, handler)
	c.mu.Unlock()
}

// IsClosedForSend reports whether Send would fail immediately.
func (c *Channel[E]) IsClosedForSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsClosedForReceive reports whether Receive would fail immediately (closed
// and drained).
func (c *Channel[E]) IsClosedForReceive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && len(c.buf) == 0 && len(c.sendWaiters) == 0
}

var undeliveredElementReporter = defaultUndeliveredElementReporter
