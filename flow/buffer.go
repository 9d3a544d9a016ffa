package flow

import (
	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/channel"
	"github.com/concord-rt/concord/dispatcher"
)

// OptionalCapacity marks a channelFlow whose capacity hasn't been requested
// yet by any Buffer/Conflate call, mirroring original_source's
// Channel.OPTIONAL_CHANNEL sentinel (ChannelFlow.cpp).
const OptionalCapacity = -2

// channelFlow is concord/flow's analogue of original_source's ChannelFlow:
// an upstream Flow plus the (dispatcher, capacity, overflow) that flowOn,
// buffer, and conflate accumulate. Adjacent channelFlow-producing operators
// fuse their parameters instead of stacking channels (spec.md §4.8's
// fusion table) until Collect actually needs one.
type channelFlow[T any] struct {
	upstream    Flow[T]
	dispatcher  dispatcher.Dispatcher // nil: inherit the collecting Context's
	capacity    int                   // OptionalCapacity: unrequested
	overflow    channel.OverflowPolicy
	hasOverflow bool
}

func (cf channelFlow[T]) Collect(ctx concord.Context, collect func(concord.Context, T) error) error {
	upstreamCtx := ctx
	if cf.dispatcher != nil {
		upstreamCtx = concord.WithDispatcher(ctx, cf.dispatcher)
	}

	// Zero-cost composition (spec.md §4.8): no channel requested and no
	// dispatcher switch, so there's nothing a channel would buy us.
	if cf.capacity == OptionalCapacity && cf.dispatcher == nil {
		return cf.upstream.Collect(upstreamCtx, collect)
	}

	capacity := cf.capacity
	if capacity == OptionalCapacity {
		capacity = 64
	}
	policy := cf.overflow
	ch := channel.New[T](capacity, policy)

	concord.Launch(upstreamCtx, concord.StartDefault, func(pctx concord.Context) {
		err := cf.upstream.Collect(pctx, func(_ concord.Context, v T) error {
			return ch.Send(pctx, v)
		})
		ch.Close(err)
	})

	for {
		v, err := ch.Receive(ctx)
		if err != nil {
			if cerr, ok := err.(*concord.ClosedReceiveError); ok {
				return cerr.Cause
			}
			return err
		}
		if err := collect(ctx, v); err != nil {
			return err
		}
	}
}

func asChannelFlow[T any](f Flow[T]) (channelFlow[T], bool) {
	cf, ok := f.(channelFlow[T])
	return cf, ok
}

// Buffer interposes a channel of the given capacity and overflow policy
// between upstream and its collector, so upstream can run ahead of a slow
// collector instead of being throttled to its pace (spec.md §4.8). Adjacent
// Buffer calls fuse: capacities add (clamped to channel.Unlimited on
// overflow), and the earlier call's policy wins unless the later one is
// non-Suspend, which overrides outright — the same rule
// original_source's ChannelFlow.fuse applies.
func Buffer[T any](upstream Flow[T], capacity int, policy channel.OverflowPolicy) Flow[T] {
	if cf, ok := asChannelFlow(upstream); ok {
		newCapacity := combineCapacity(cf.capacity, capacity)
		newPolicy := cf.overflow
		if policy != channel.Suspend {
			newCapacity = capacity
			newPolicy = policy
		}
		return channelFlow[T]{upstream: cf.upstream, dispatcher: cf.dispatcher, capacity: newCapacity, overflow: newPolicy, hasOverflow: true}
	}
	return channelFlow[T]{upstream: upstream, capacity: capacity, overflow: policy, hasOverflow: true}
}

func combineCapacity(a, b int) int {
	if a == OptionalCapacity {
		return b
	}
	if b == OptionalCapacity {
		return a
	}
	sum := a + b
	if sum < 0 {
		return channel.Unlimited
	}
	return sum
}

// Conflate keeps only the most recent value a slow collector hasn't yet
// consumed: equivalent to Buffer(upstream, 1, DropOldest), and per spec.md
// §4.8's fusion rule it replaces rather than combines with any buffering
// already fused into upstream.
func Conflate[T any](upstream Flow[T]) Flow[T] {
	if cf, ok := asChannelFlow(upstream); ok {
		return channelFlow[T]{upstream: cf.upstream, dispatcher: cf.dispatcher, capacity: 1, overflow: channel.DropOldest, hasOverflow: true}
	}
	return channelFlow[T]{upstream: upstream, capacity: 1, overflow: channel.DropOldest, hasOverflow: true}
}

// FlowOn moves upstream's collection onto d, decoupling it from whatever
// Dispatcher the eventual collector runs on (spec.md §4.8). Per the fusion
// table, an earlier FlowOn in the same chain wins: composing two FlowOn
// calls keeps the first one's Dispatcher for its frame rather than letting
// an outer FlowOn silently override it.
func FlowOn[T any](upstream Flow[T], d dispatcher.Dispatcher) Flow[T] {
	if cf, ok := asChannelFlow(upstream); ok && cf.dispatcher != nil {
		return cf
	}
	if cf, ok := asChannelFlow(upstream); ok {
		return channelFlow[T]{upstream: cf.upstream, dispatcher: d, capacity: cf.capacity, overflow: cf.overflow, hasOverflow: cf.hasOverflow}
	}
	return channelFlow[T]{upstream: upstream, dispatcher: d, capacity: OptionalCapacity}
}

// ProduceIn launches upstream on its own coroutine and returns the Channel
// backing it directly, for callers that want receive-side control instead
// of a collect callback (spec.md §4.8's produceIn).
func ProduceIn[T any](ctx concord.Context, upstream Flow[T], capacity int) *channel.Channel[T] {
	ch := channel.New[T](capacity, channel.Suspend)
	concord.Launch(ctx, concord.StartDefault, func(pctx concord.Context) {
		err := upstream.Collect(pctx, func(_ concord.Context, v T) error { return ch.Send(pctx, v) })
		ch.Close(err)
	})
	return ch
}
