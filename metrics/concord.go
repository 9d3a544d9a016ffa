package metrics

import "sync/atomic"

// registry is the Provider every concord component records through. It
// defaults to NoopProvider, so metrics collection costs nothing unless a
// caller opts in.
var registry atomic.Pointer[Provider]

func init() {
	var p Provider = NewNoopProvider()
	registry.Store(&p)
}

// SetProvider installs p as the Provider every concord package records
// instruments through, replacing whatever was installed before. Call it
// once at startup, before launching coroutines, to avoid racing instrument
// creation against the default NoopProvider.
func SetProvider(p Provider) {
	if p == nil {
		p = NewNoopProvider()
	}
	registry.Store(&p)
}

func current() Provider { return *registry.Load() }

// The instruments below are looked up lazily (Providers memoize by name),
// so components can call these helpers directly without caching instrument
// handles themselves.

// JobsActive is the number of Jobs currently in a non-terminal phase.
func JobsActive() UpDownCounter {
	return current().UpDownCounter("concord.jobs.active", WithDescription("Jobs currently active or cancelling"), WithUnit("1"))
}

// JobsCompleted counts Jobs that have reached a terminal phase; the count
// carries no outcome attribute.
func JobsCompleted() Counter {
	return current().Counter("concord.jobs.completed", WithDescription("Jobs that reached a terminal phase"), WithUnit("1"))
}

// DispatcherTasks counts Runnables handed to a Dispatcher.
func DispatcherTasks() Counter {
	return current().Counter("concord.dispatcher.tasks", WithDescription("Runnables dispatched"), WithUnit("1"))
}

// DispatcherPanics counts Runnables that panicked instead of returning.
func DispatcherPanics() Counter {
	return current().Counter("concord.dispatcher.panics", WithDescription("Runnables that panicked"), WithUnit("1"))
}

// ChannelSends counts values accepted by Channel.Send (including ones later
// dropped by an overflow policy).
func ChannelSends() Counter {
	return current().Counter("concord.channel.sends", WithDescription("values sent into a channel"), WithUnit("1"))
}

// ChannelUndelivered counts values reported through OnUndeliveredElement.
func ChannelUndelivered() Counter {
	return current().Counter("concord.channel.undelivered", WithDescription("values dropped or never received"), WithUnit("1"))
}
