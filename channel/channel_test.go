package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/config"
)

func TestNew_DefaultCapacityResolvesFromActiveConfig(t *testing.T) {
	t.Cleanup(func() { config.SetActive(config.Default()) })
	config.SetActive(config.New(config.WithChannelDefaultCapacity(2)))

	ch := New[int](DefaultCapacity, Suspend)
	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	done := make(chan error, 1)
	go func() { done <- ch.Send(jobCtx(), 3) }()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("third send should have blocked past the configured capacity of 2")
	default:
	}
	_, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func jobCtx() concord.Context {
	job := concord.NewJob(nil)
	job.Start()
	return concord.WithJob(concord.Background(), job)
}

func TestChannel_RendezvousSendWaitsForReceiver(t *testing.T) {
	ch := New[int](0, Suspend)
	ctx := jobCtx()

	sent := make(chan error, 1)
	go func() { sent <- ch.Send(ctx, 42) }()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-sent:
		t.Fatal("rendezvous send completed before a receiver arrived")
	default:
	}

	v, err := ch.Receive(jobCtx())
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.NoError(t, <-sent)
}

func TestChannel_BufferedSendDoesNotBlockUnderCapacity(t *testing.T) {
	ch := New[int](2, Suspend)
	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestChannel_DropOldestEvictsOnOverflow(t *testing.T) {
	ch := New[int](1, DropOldest)
	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestChannel_DropLatestKeepsBuffer(t *testing.T) {
	ch := New[int](1, DropLatest)
	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestChannel_CloseFailsSendAndDrainsReceive(t *testing.T) {
	ch := New[int](2, Suspend)
	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	ch.Close(nil)

	err := ch.Send(ctx, 2)
	var cse *concord.ClosedSendError
	require.ErrorAs(t, err, &cse)

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = ch.Receive(ctx)
	var cre *concord.ClosedReceiveError
	require.ErrorAs(t, err, &cre)
}

func TestChannel_CancelledReceiveUnparks(t *testing.T) {
	ch := New[int](0, Suspend)
	job := concord.NewJob(nil)
	job.Start()
	ctx := concord.WithJob(concord.Background(), job)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Receive(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	job.Cancel(nil)

	err := <-done
	require.True(t, concord.IsCancellation(err))
}

func TestChannel_OnUndeliveredElementFiresOnDrop(t *testing.T) {
	ch := New[int](1, DropOldest)
	var dropped int
	ch.OnUndeliveredElement(func(v int) { dropped = v })

	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.Equal(t, 1, dropped)
}

func TestIterator_HasNextNextDrainsExactlyWhatWasSent(t *testing.T) {
	ch := New[int](4, Suspend)
	ctx := jobCtx()
	for _, v := range []int{1, 2, 3} {
		require.NoError(t, ch.Send(ctx, v))
	}
	ch.Close(nil)

	it := ch.Iterate(ctx)
	var got []int
	for {
		has, err := it.HasNext()
		require.NoError(t, err)
		if !has {
			break
		}
		got = append(got, it.Next())
	}
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestIterator_HasNextParksUntilSenderArrives(t *testing.T) {
	ch := New[int](0, Suspend)
	ctx := jobCtx()
	it := ch.Iterate(ctx)

	result := make(chan bool, 1)
	go func() {
		has, err := it.HasNext()
		require.NoError(t, err)
		result <- has
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("HasNext returned before a value was sent")
	default:
	}

	require.NoError(t, ch.Send(jobCtx(), 42))
	require.True(t, <-result)
	require.Equal(t, 42, it.Next())
}

func TestIterator_NextWithoutHasNextPanics(t *testing.T) {
	ch := New[int](1, Suspend)
	it := ch.Iterate(jobCtx())
	require.Panics(t, func() { it.Next() })
}

func TestChannel_TryReceiveNonBlocking(t *testing.T) {
	ch := New[int](1, Suspend)
	_, ok, err := ch.TryReceive()
	require.False(t, ok)
	require.NoError(t, err)

	ctx := jobCtx()
	require.NoError(t, ch.Send(ctx, 5))
	v, ok, err := ch.TryReceive()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 5, v)
}
