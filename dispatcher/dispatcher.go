// Package dispatcher implements spec.md §4.3: the pluggable execution
// contexts a Job's body and its suspending calls are resumed on. It is
// grounded on the teacher's dispatcher.go (a channel-fed pool.Pool dispatch
// loop) generalized from "run one Task[R] per dequeue" to "run one Runnable
// (a resumed continuation) per Dispatch call", plus the dynamic/fixed pool
// split from pool/dynamic.go and pool/fixed.go.
package dispatcher

import (
	"runtime/debug"
	"sync"

	"github.com/concord-rt/concord/config"
	"github.com/concord-rt/concord/dispatcher/pool"
	"github.com/concord-rt/concord/metrics"
	"github.com/concord-rt/concord/rtlog"

	_ "go.uber.org/automaxprocs"
)

// Runnable is one unit of dispatched work: typically a continuation resume
// or a coroutine body's first execution.
type Runnable func()

// Dispatcher decides which goroutine/worker runs a Runnable, and when
// (spec.md §4.3). The pool-backed Default and IO return from Dispatch
// without waiting for the Runnable to finish; Unconfined runs it on the
// calling goroutine before Dispatch returns.
type Dispatcher interface {
	// Name identifies the dispatcher for diagnostics and probes.
	Name() string

	// Dispatch schedules fn to run, according to the dispatcher's policy.
	Dispatch(fn Runnable)

	// Close releases any worker goroutines. Dispatching to a pool-backed
	// dispatcher after Close panics; Close on Unconfined or on a
	// LimitedParallelism view does nothing.
	Close()
}

// poolDispatcher runs every Runnable via a worker drawn from a pool.Pool,
// adapting the teacher's dispatcher.go dequeue-and-execute loop: here the
// "task" is just the Runnable itself. Each Dispatch starts one goroutine,
// tracked by wg so Close can wait for in-flight work.
type poolDispatcher struct {
	name string
	pool pool.Pool
	wg   sync.WaitGroup

	closed sync.Once
	done   chan struct{}
}

// poolWorker is the thing a pool.Pool actually hands out: mirroring the
// teacher's worker[R].execute (worker.go), it owns the panic recovery and
// metrics/logging around running one Runnable, so the pooled object is the
// one doing the work rather than a token fetched and immediately discarded.
type poolWorker struct {
	dispatcherName string
}

func (w *poolWorker) execute(fn Runnable) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatcherPanics().Add(1)
			rtlog.DispatcherTaskPanic(w.dispatcherName, r)
			debug.PrintStack()
		}
	}()
	fn()
}

func newPoolDispatcher(name string, p pool.Pool) *poolDispatcher {
	return &poolDispatcher{name: name, pool: p, done: make(chan struct{})}
}

func (d *poolDispatcher) Name() string { return d.name }

// Dispatch mirrors the teacher's dispatcher.execute: fetch a worker from the
// pool, have it run fn, return it to the pool, exactly as d.pool.Get/Put
// bracket ww.execute(ctx, t) in dispatcher.go.
func (d *poolDispatcher) Dispatch(fn Runnable) {
	select {
	case <-d.done:
		panic("concord/dispatcher: Dispatch on a closed Dispatcher")
	default:
	}
	d.wg.Add(1)
	metrics.DispatcherTasks().Add(1)
	go func() {
		defer d.wg.Done()
		w := d.pool.Get().(*poolWorker)
		w.execute(fn)
		d.pool.Put(w)
	}()
}

func (d *poolDispatcher) Close() {
	d.closed.Do(func() { close(d.done) })
	d.wg.Wait()
}

// Default is sized to GOMAXPROCS (as adjusted by automaxprocs for container
// cgroup limits) via a fixed pool.Pool, mirroring the teacher's bounded
// worker pool used for default CPU-bound dispatch.
var Default Dispatcher = newPoolDispatcher("Default", pool.NewFixed(defaultParallelism(), func() interface{} { return &poolWorker{dispatcherName: "Default"} }))

// IO backs blocking/IO-bound suspending work with an unbounded dynamic pool
// (sync.Pool-backed, per pool/dynamic.go): bursts of blocked goroutines don't
// starve Default's fixed capacity.
var IO Dispatcher = newIODispatcher()

func newIODispatcher() Dispatcher {
	p := pool.NewDynamic(func() interface{} { return &poolWorker{dispatcherName: "IO"} })
	// config.Active().IOPoolInitialCapacity hints the steady-state worker
	// count; pre-warming that many avoids paying newFn's allocation on the
	// first burst of IO-bound dispatches after process start.
	n := config.Active().IOPoolInitialCapacity
	warm := make([]interface{}, 0, n)
	for i := uint(0); i < n; i++ {
		warm = append(warm, p.Get())
	}
	for _, w := range warm {
		p.Put(w)
	}
	return newPoolDispatcher("IO", p)
}
