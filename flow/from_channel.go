package flow

import (
	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/channel"
)

// ReceiveAsFlow bridges a Channel into a Flow: Collect drains ch element by
// element until it closes, exactly mirroring the channel's own Iterator
// (spec.md §4.6's receiveAsFlow). Unlike ProduceIn's inverse direction, no
// extra coroutine or channel is created — Collect's caller already owns one
// end of ch, so this is just ch.Iterate wired into the Flow interface.
func ReceiveAsFlow[T any](ch *channel.Channel[T]) Flow[T] {
	return New(func(ctx concord.Context, emit func(T) error) error {
		it := ch.Iterate(ctx)
		for {
			has, err := it.HasNext()
			if err != nil {
				return err
			}
			if !has {
				return nil
			}
			if err := emit(it.Next()); err != nil {
				return err
			}
		}
	})
}
