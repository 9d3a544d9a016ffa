package pool

// fixed is a bounded pool: at most capacity workers are ever created: get
// either reuses an idle one or, under capacity, mints a new one; at capacity
// with none idle, get hands out one of the already-created workers again
// instead of minting another.
type fixed struct {
	available chan interface{}
	all       chan interface{}
	buf       chan interface{}
	newFn     func() interface{}
}

// NewFixed builds a Pool that never holds more than capacity live workers,
// used to size Dispatchers.Default to GOMAXPROCS-derived parallelism
// (concord/dispatcher wires this with go.uber.org/automaxprocs).
func NewFixed(capacity uint, newFn func() interface{}) Pool {
	return &fixed{
		available: make(chan interface{}, capacity),
		all:       make(chan interface{}, capacity),
		buf:       make(chan interface{}, 1024),
		newFn:     newFn,
	}
}

func (p *fixed) Get() interface{} {
	select {
	case el := <-p.available:
		return el

	case el := <-p.buf:
		return el

	default:
		var el interface{}

		if len(p.all) < cap(p.all) {
			el = p.newFn()
		} else {
			el = <-p.all
		}

		select {
		case p.all <- el:
		case p.buf <- el:
		default:
		}
		return el
	}
}

func (p *fixed) Put(el interface{}) {
	select {
	case p.available <- el:
	case p.all <- el:
	case p.buf <- el:
	default:
	}
}
