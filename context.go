package concord

// Key identifies a Context Element by identity, not by value. Two keys are
// the "same" key only when they are the identical Key value (a pointer or a
// comparable singleton), never by name or structural equality.
type Key interface {
	contextKey()
}

// Element is a value stored in a Context under its own Key.
type Element interface {
	// Key returns the identity this element is stored and looked up under.
	Key() Key
}

// Context is an immutable, heterogeneous map from Key to Element, composed
// with Plus. It is the coroutine-scoped analogue of a dependency bag: a
// Dispatcher, a Job, a name, an exception handler, and arbitrary
// user-defined elements all live in the same Context value.
//
// Contexts are never mutated in place; Plus, Minus, and the builder
// functions all return a new Context value. This makes Context safe to
// share across goroutines without synchronization.
type Context interface {
	// Get returns the element registered under key, and whether it was
	// found. Lookup compares key identity, never element value.
	Get(key Key) (Element, bool)

	// Minus returns a Context with the element under key removed (a no-op,
	// returning the receiver, if key was not present).
	Minus(key Key) Context

	// Plus composes the receiver with other: other's elements override the
	// receiver's by key; elements present only on one side are kept.
	// Plus is associative but not commutative.
	Plus(other Context) Context

	// Fold threads init through op for every element, left to right as
	// determined by the context's internal linked structure. Order among
	// non-overriding elements is unspecified beyond "some order"; Plus uses
	// Fold to implement composition.
	Fold(init any, op func(acc any, e Element) any) any
}

// Background returns the empty Context: no elements, Get always misses.
func Background() Context { return emptyContext{} }

type emptyContext struct{}

func (emptyContext) Get(Key) (Element, bool) { return nil, false }
func (emptyContext) Minus(Key) Context       { return emptyContext{} }
func (emptyContext) Plus(other Context) Context {
	if other == nil {
		return emptyContext{}
	}
	return other
}
func (emptyContext) Fold(init any, _ func(any, Element) any) any { return init }

// singleContext holds exactly one element. It is the common case: most
// context compositions add one distinguished element (a Job, a Dispatcher,
// a name) at a time.
type singleContext struct {
	element Element
}

// WithElement returns base composed with a single additional element,
// overriding any existing element with the same key.
func WithElement(base Context, element Element) Context {
	if base == nil {
		base = emptyContext{}
	}
	return base.Plus(singleContext{element: element})
}

func (c singleContext) Get(key Key) (Element, bool) {
	if c.element != nil && c.element.Key() == key {
		return c.element, true
	}
	return nil, false
}

func (c singleContext) Minus(key Key) Context {
	if c.element == nil || c.element.Key() != key {
		return c
	}
	return emptyContext{}
}

func (c singleContext) Plus(other Context) Context {
	if other == nil {
		return c
	}
	return combinedContext{left: c, right: other}
}

func (c singleContext) Fold(init any, op func(any, Element) any) any {
	if c.element == nil {
		return init
	}
	return op(init, c.element)
}

// combinedContext is a left-biased pair: right overrides left by key. Depth
// grows by one per Plus call onto a non-empty Context, even when the new
// element only shadows an older one with the same key; in practice
// coroutine contexts compose only a handful of
// elements (dispatcher, job, name, handler), so O(depth) lookup is cheap.
type combinedContext struct {
	left  Context
	right Context
}

func (c combinedContext) Get(key Key) (Element, bool) {
	if e, ok := c.right.Get(key); ok {
		return e, true
	}
	return c.left.Get(key)
}

func (c combinedContext) Minus(key Key) Context {
	right := c.right.Minus(key)
	left := c.left.Minus(key)
	if _, ok := right.Get(key); ok {
		// right still shadows key via a nested combination; keep as-is
		// except with the outer key stripped, which Minus above did.
	}
	return combine(left, right)
}

func (c combinedContext) Plus(other Context) Context {
	if other == nil {
		return c
	}
	return combinedContext{left: c, right: other}
}

func (c combinedContext) Fold(init any, op func(any, Element) any) any {
	acc := c.left.Fold(init, op)
	return c.right.Fold(acc, op)
}

func combine(left, right Context) Context {
	if _, ok := left.(emptyContext); ok {
		return right
	}
	if _, ok := right.(emptyContext); ok {
		return left
	}
	return combinedContext{left: left, right: right}
}

// Keys for the distinguished elements named in spec.md §3: a dispatcher, a
// job, a name, and an exception handler are each at most one per Context.

type dispatcherKeyType struct{}

func (dispatcherKeyType) contextKey() {}

// DispatcherKey is the Key under which the active Dispatcher element is
// stored. WithDispatcher (builder.go) stores a Dispatcher under this key,
// and the coroutine builder looks it up to pick the Dispatcher a new
// coroutine runs on.
var DispatcherKey Key = dispatcherKeyType{}

type jobKeyType struct{}

func (jobKeyType) contextKey() {}

// JobKey is the Key under which the enclosing Job is stored.
var JobKey Key = jobKeyType{}

type nameKeyType struct{}

func (nameKeyType) contextKey() {}

// NameKey is the Key under which a human-readable coroutine Name is stored.
var NameKey Key = nameKeyType{}

type handlerKeyType struct{}

func (handlerKeyType) contextKey() {}

// HandlerKey is the Key under which a CoroutineExceptionHandler is stored.
var HandlerKey Key = handlerKeyType{}

// Name is a Context Element naming a coroutine, for diagnostics and probes.
type Name string

func (Name) Key() Key { return NameKey }

// JobOf returns the Job registered in ctx, if any.
func JobOf(ctx Context) (*Job, bool) {
	if ctx == nil {
		return nil, false
	}
	e, ok := ctx.Get(JobKey)
	if !ok {
		return nil, false
	}
	j, ok := e.(jobElement)
	if !ok {
		return nil, false
	}
	return j.job, true
}

type jobElement struct{ job *Job }

func (jobElement) Key() Key { return JobKey }

// WithJob returns ctx with job registered under JobKey, overriding any job
// already present.
func WithJob(ctx Context, job *Job) Context {
	return WithElement(ctx, jobElement{job: job})
}

// HandlerOf returns the CoroutineExceptionHandler registered in ctx, if any.
func HandlerOf(ctx Context) (CoroutineExceptionHandler, bool) {
	if ctx == nil {
		return nil, false
	}
	e, ok := ctx.Get(HandlerKey)
	if !ok {
		return nil, false
	}
	h, ok := e.(handlerElement)
	if !ok {
		return nil, false
	}
	return h.handler, true
}

type handlerElement struct{ handler CoroutineExceptionHandler }

func (handlerElement) Key() Key { return HandlerKey }

// WithExceptionHandler returns ctx with handler registered under HandlerKey.
func WithExceptionHandler(ctx Context, handler CoroutineExceptionHandler) Context {
	return WithElement(ctx, handlerElement{handler: handler})
}
