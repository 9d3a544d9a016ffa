// Package metrics defines the instrument surface concord's runtime reports
// through: dispatched-task counts, in-flight Job counts, channel traffic,
// undelivered elements. It is adapted from the teacher's metrics package
// (provider.go/basic.go/noop.go) unchanged in shape — a minimal
// Counter/UpDownCounter/Histogram surface is exactly as useful for a
// coroutine runtime as for a worker pool — with the registry wired to
// concord's own components instead of worker-batch accounting.
package metrics

// Provider constructs instruments used to record metrics. Implementations
// must be safe for concurrent use.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter records monotonic counts (e.g. jobs launched, elements sent).
type Counter interface {
	Add(n int64)
}

// UpDownCounter records values that move up or down (e.g. Jobs currently
// active, goroutines parked in a dispatcher pool).
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records a distribution of float64 measurements (e.g. dispatch
// latency in seconds, channel buffer occupancy at send time).
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig carries optional, advisory instrument metadata.
type InstrumentConfig struct {
	Description string
	Unit        string
	Attributes  map[string]string
}

// InstrumentOption mutates InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription sets an advisory description for the instrument.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets an advisory unit for the instrument (e.g. "1", "seconds").
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

// WithAttributes attaches static attributes to the instrument (bounded
// cardinality only).
func WithAttributes(attrs map[string]string) InstrumentOption {
	return func(c *InstrumentConfig) {
		if len(attrs) == 0 {
			return
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	}
}
