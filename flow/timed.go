package flow

import (
	"time"

	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/channel"
)

// Debounce emits a value only after window has passed without upstream
// producing a newer one, dropping every value superseded within the
// window (spec.md §4.8). It runs upstream on its own child Job so
// cancelling the collecting Job also cancels the pending timer.
func Debounce[T any](upstream Flow[T], window time.Duration) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		ch := channel.New[T](0, channel.Suspend)
		job, _ := concord.JobOf(ctx)
		producer := concord.NewJob(job)
		producer.Start()
		go func() {
			pctx := concord.WithJob(ctx, producer)
			err := upstream.Collect(pctx, func(_ concord.Context, v T) error { return ch.Send(pctx, v) })
			ch.Close(err)
			producer.Complete(nil)
		}()
		defer producer.Cancel(&concord.CancellationException{Job: "debounce"})

		var (
			havePending bool
			pending     T
			timer       *time.Timer
			timerC      <-chan time.Time
		)
		recvCh := rawRecv(ctx, ch)
		for {
			var tc <-chan time.Time
			if timer != nil {
				tc = timerC
			}
			select {
			case v, ok := <-recvCh:
				if !ok {
					if havePending {
						if err := emit(pending); err != nil {
							return err
						}
					}
					return drainErr(ch)
				}
				havePending = true
				pending = v
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(window)
				timerC = timer.C
				recvCh = rawRecv(ctx, ch)
			case <-tc:
				if havePending {
					if err := emit(pending); err != nil {
						return err
					}
					havePending = false
				}
				timer = nil
			case <-job.Done():
				return &concord.CancellationException{Job: job.Name()}
			}
		}
	})
}

// Sample emits upstream's most recent value once every period, dropping
// everything else (spec.md §4.8).
func Sample[T any](upstream Flow[T], period time.Duration) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		ch := channel.New[T](1, channel.DropOldest)
		job, _ := concord.JobOf(ctx)
		producer := concord.NewJob(job)
		producer.Start()
		go func() {
			pctx := concord.WithJob(ctx, producer)
			err := upstream.Collect(pctx, func(_ concord.Context, v T) error { return ch.Send(pctx, v) })
			ch.Close(err)
			producer.Complete(nil)
		}()
		defer producer.Cancel(&concord.CancellationException{Job: "sample"})

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		var (
			have     bool
			latest   T
			closed   bool
			closeErr error
			recvCh   <-chan T
		)
		recvCh = rawRecv(ctx, ch)
		for {
			select {
			case v, ok := <-recvCh:
				if !ok {
					closed = true
					closeErr = drainErr(ch)
					recvCh = nil
					continue
				}
				latest = v
				have = true
				recvCh = rawRecv(ctx, ch)
			case <-ticker.C:
				if have {
					if err := emit(latest); err != nil {
						return err
					}
					have = false
				}
				if closed {
					return closeErr
				}
			case <-job.Done():
				return &concord.CancellationException{Job: job.Name()}
			}
		}
	})
}

// Timeout fails the Flow with a *concord.TimeoutCancellationException if
// upstream goes longer than d between values (including before its first).
func Timeout[T any](upstream Flow[T], d time.Duration) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		ch := channel.New[T](0, channel.Suspend)
		job, _ := concord.JobOf(ctx)
		producer := concord.NewJob(job)
		producer.Start()
		go func() {
			pctx := concord.WithJob(ctx, producer)
			err := upstream.Collect(pctx, func(_ concord.Context, v T) error { return ch.Send(pctx, v) })
			ch.Close(err)
			producer.Complete(nil)
		}()
		defer producer.Cancel(&concord.CancellationException{Job: "timeout"})

		for {
			timer := time.NewTimer(d)
			select {
			case v, ok := <-rawRecv(ctx, ch):
				timer.Stop()
				if !ok {
					return drainErr(ch)
				}
				if err := emit(v); err != nil {
					return err
				}
			case <-timer.C:
				return &concord.TimeoutCancellationException{
					CancellationException: &concord.CancellationException{Job: "timeout"},
					Duration:               d,
				}
			case <-job.Done():
				timer.Stop()
				return &concord.CancellationException{Job: job.Name()}
			}
		}
	})
}

// rawRecv adapts a Channel[T] into a plain Go channel for use inside a
// native select alongside timers, since Channel's own Receive is itself a
// suspension point rather than a <-chan. It spawns one short-lived goroutine
// per call; ctx cancellation is handled by the caller's own select arm.
func rawRecv[T any](ctx concord.Context, ch *channel.Channel[T]) <-chan T {
	out := make(chan T, 1)
	go func() {
		v, err := ch.Receive(ctx)
		if err != nil {
			close(out)
			return
		}
		out <- v
	}()
	return out
}

func drainErr[T any](ch *channel.Channel[T]) error {
	_, err := ch.Receive(nil)
	if cerr, ok := err.(*concord.ClosedReceiveError); ok {
		return cerr.Cause
	}
	return err
}
