package config

// Option configures a RuntimeConfig. Use New(opts...) to build one without
// hand-assembling the struct, mirroring the teacher's functional-options
// builder (options.go).
type Option func(*RuntimeConfig)

// WithDefaultParallelism overrides Dispatchers.Default's worker count.
func WithDefaultParallelism(n uint) Option {
	return func(c *RuntimeConfig) { c.DefaultParallelism = n }
}

// WithIOPoolInitialCapacity hints the Dispatchers.IO pool's expected size.
func WithIOPoolInitialCapacity(n uint) Option {
	return func(c *RuntimeConfig) { c.IOPoolInitialCapacity = n }
}

// WithChannelDefaultCapacity sets the buffer size used for channels
// constructed without an explicit capacity.
func WithChannelDefaultCapacity(n uint) Option {
	return func(c *RuntimeConfig) { c.ChannelDefaultCapacity = n }
}

// WithSharedFlowReplayDefault sets the default SharedFlow replay count.
func WithSharedFlowReplayDefault(n uint) Option {
	return func(c *RuntimeConfig) { c.SharedFlowReplayDefault = n }
}

// WithLogLevel sets concord/rtlog's minimum level.
func WithLogLevel(level string) Option {
	return func(c *RuntimeConfig) { c.LogLevel = level }
}

// New builds a RuntimeConfig starting from Default and applying opts in
// order, panicking if the result fails Validate (a programmer error: opts
// are supplied by the embedding application, not by untrusted input).
func New(opts ...Option) RuntimeConfig {
	cfg := Default()
	for _, opt := range opts {
		if opt == nil {
			panic("concord/config: nil Option")
		}
		opt(&cfg)
	}
	if err := Validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}
