// Package concord implements the core of a structured-concurrency runtime: a
// cooperative coroutine engine with a supervised job tree, pluggable
// dispatchers, cancellable suspensions, and the primitives (Mutex, Semaphore,
// WithTimeout) built on CancellableContinuation and Job.
//
// Layered packages
//   - concord (this package): Context, Result, Job, Deferred,
//     CancellableContinuation, the coroutine builder, and the error taxonomy.
//   - concord/dispatcher: Default/IO/Unconfined/LimitedParallelism dispatchers.
//   - concord/channel: mutex-guarded FIFO buffered and rendezvous channels.
//   - concord/selectop: the Select registration/commit protocol.
//   - concord/flow: the cold Flow abstraction and its operators.
//   - concord/sharedflow: SharedFlow and StateFlow.
//   - concord/metrics, concord/config, concord/rtlog, concord/probe: ambient
//     instrumentation, configuration, logging, and debugging-probe hooks.
//
// Structured concurrency
//
// Every coroutine launched by Launch or Async is a Job, parented to the
// CoroutineScope (or Job) it was launched from. A scope's Join returns only
// after every transitively-launched descendant has reached a terminal state;
// cancelling a scope cancels its entire subtree. There is no way to launch a
// coroutine that outlives its parent.
package concord
