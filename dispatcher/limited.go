package dispatcher

import (
	"sync"

	"github.com/joeycumines/go-eventloop"
)

// limitedDispatcher wraps an underlying Dispatcher, running at most
// parallelism worker-loops over its own FIFO queue rather than one
// goroutine per Dispatch call (spec.md §4.3 LimitedParallelism). It is
// adapted from original_source's LimitedDispatcher: a shared queue plus a
// running-worker counter, where a worker drains the queue until empty (or a
// fairness budget expires) instead of re-dispatching per task.
type limitedDispatcher struct {
	name        string
	underlying  Dispatcher
	parallelism int

	mu      sync.Mutex
	running int
	queue   *eventloop.ChunkedIngress
}

// fairnessBudget bounds how many tasks one worker loop drains before
// yielding back to the underlying dispatcher, so a flood of fast tasks on a
// LimitedParallelism(1) dispatcher can't starve the underlying dispatcher's
// other clients. Mirrors the original's constant of 16.
const fairnessBudget = 16

// LimitedParallelism returns a view of underlying that admits at most n
// concurrently-running Runnables, queueing the rest (spec.md §4.3). n must
// be >= 1.
func LimitedParallelism(underlying Dispatcher, n int, name string) Dispatcher {
	if n < 1 {
		panic("concord/dispatcher: LimitedParallelism requires n >= 1")
	}
	if name == "" {
		name = underlying.Name() + ".limitedParallelism"
	}
	return &limitedDispatcher{
		name:        name,
		underlying:  underlying,
		parallelism: n,
		queue:       eventloop.NewChunkedIngress(),
	}
}

func (d *limitedDispatcher) Name() string { return d.name }

func (d *limitedDispatcher) Dispatch(fn Runnable) {
	d.mu.Lock()
	d.queue.Push(fn)
	if d.running >= d.parallelism {
		d.mu.Unlock()
		return
	}
	d.running++
	d.mu.Unlock()

	d.underlying.Dispatch(d.runWorker)
}

// runWorker drains the shared queue, honoring fairnessBudget before handing
// control back to the underlying dispatcher with a fresh Dispatch call.
func (d *limitedDispatcher) runWorker() {
	count := 0
	for {
		d.mu.Lock()
		task, ok := d.queue.Pop()
		if !ok {
			d.running--
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		task()
		count++
		if count >= fairnessBudget {
			d.underlying.Dispatch(d.runWorker)
			return
		}
	}
}

func (d *limitedDispatcher) Close() {}
