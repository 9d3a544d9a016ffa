// Package pool adapts the fixed-capacity and dynamic worker pools used by
// concord/dispatcher to size Dispatchers.Default and Dispatchers.IO
// (spec.md §4.3).
package pool

// Pool hands out reusable goroutine-worker handles.
type Pool interface {
	// Get returns a worker, creating one if the pool is below capacity and
	// none is idle.
	Get() interface{}

	// Put returns a worker to the pool.
	Put(interface{})
}
