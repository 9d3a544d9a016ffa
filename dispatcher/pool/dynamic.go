package pool

import "sync"

// NewDynamic wraps sync.Pool: unbounded growth under load, workers dropped
// under GC pressure. Used to size Dispatchers.IO, whose whole point is to
// absorb a burst of blocking work without a hard worker ceiling.
func NewDynamic(newFn func() interface{}) Pool {
	return &sync.Pool{New: newFn}
}
