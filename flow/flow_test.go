package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord"
	"github.com/concord-rt/concord/channel"
)

func jobCtx() concord.Context {
	job := concord.NewJob(nil)
	job.Start()
	return concord.WithJob(concord.Background(), job)
}

func ofInts(vs ...int) Flow[int] {
	return New(func(ctx concord.Context, emit func(int) error) error {
		for _, v := range vs {
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestFlow_CollectEmitsInOrder(t *testing.T) {
	var got []int
	err := Collect(jobCtx(), ofInts(1, 2, 3), func(v int) error {
		got = append(got, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestFlow_MapAndFilter(t *testing.T) {
	doubled := Map(ofInts(1, 2, 3), func(v int) (int, error) { return v * 2, nil })
	evens := Filter(doubled, func(v int) bool { return v%4 == 0 })
	out, err := ToList(jobCtx(), evens)
	require.NoError(t, err)
	require.Equal(t, []int{4}, out)
}

func TestFlow_ContextPreservationViolationOnLateEmit(t *testing.T) {
	var stash func(int) error
	f := New(func(ctx concord.Context, emit func(int) error) error {
		stash = emit
		return nil
	})
	err := Collect(jobCtx(), f, func(int) error { return nil })
	require.NoError(t, err)

	require.Panics(t, func() { _ = stash(1) })
}

func TestFlow_CatchInterceptsUpstreamOnly(t *testing.T) {
	boom := errors.New("boom")
	failing := New(func(ctx concord.Context, emit func(int) error) error {
		if err := emit(1); err != nil {
			return err
		}
		return boom
	})
	caught := Catch(failing, func(err error) error {
		require.ErrorIs(t, err, boom)
		return nil
	})
	out, err := ToList(jobCtx(), caught)
	require.NoError(t, err)
	require.Equal(t, []int{1}, out)
}

func TestFlow_CatchDoesNotInterceptDownstreamError(t *testing.T) {
	downstream := errors.New("downstream failure")
	f := Catch(ofInts(1, 2, 3), func(err error) error {
		t.Fatal("Catch handler should never see a downstream error")
		return nil
	})
	err := Collect(jobCtx(), f, func(v int) error {
		if v == 2 {
			return downstream
		}
		return nil
	})
	require.ErrorIs(t, err, downstream)
}

func TestFlow_First(t *testing.T) {
	v, err := First(jobCtx(), ofInts(10, 20, 30))
	require.NoError(t, err)
	require.Equal(t, 10, v)
}

func TestFlow_FirstOnEmptyFlow(t *testing.T) {
	_, err := First(jobCtx(), ofInts())
	require.ErrorIs(t, err, ErrEmptyFlow)
}

func TestFlow_Single(t *testing.T) {
	v, err := Single(jobCtx(), ofInts(42))
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestFlow_SingleFailsOnMultipleElements(t *testing.T) {
	_, err := Single(jobCtx(), ofInts(1, 2))
	require.ErrorIs(t, err, ErrMoreThanOneElement)
}

func TestFlow_ReduceAndFold(t *testing.T) {
	sum, err := Reduce(jobCtx(), ofInts(1, 2, 3), func(acc, v int) int { return acc + v })
	require.NoError(t, err)
	require.Equal(t, 6, sum)

	total, err := Fold(jobCtx(), ofInts(1, 2, 3), 100, func(acc int, v int) int { return acc + v })
	require.NoError(t, err)
	require.Equal(t, 106, total)
}

func TestFlow_OnCompletionSeesNilOnSuccess(t *testing.T) {
	var cause error
	var causeSeen bool
	f := OnCompletion(ofInts(1), func(c error) {
		cause = c
		causeSeen = true
	})
	_, err := ToList(jobCtx(), f)
	require.NoError(t, err)
	require.True(t, causeSeen)
	require.NoError(t, cause)
}

func TestFlow_BufferFusesAdjacentCapacities(t *testing.T) {
	f := Buffer(Buffer(ofInts(1, 2, 3), 2, channel.Suspend), 3, channel.Suspend)
	cf, ok := asChannelFlow(f)
	require.True(t, ok)
	require.Equal(t, 5, cf.capacity)
}

func TestFlow_BufferThenConflateReplaces(t *testing.T) {
	f := Conflate(Buffer(ofInts(1, 2, 3), 10, channel.Suspend))
	cf, ok := asChannelFlow(f)
	require.True(t, ok)
	require.Equal(t, 1, cf.capacity)
	require.Equal(t, channel.DropOldest, cf.overflow)
}

func TestFlow_LaunchIn(t *testing.T) {
	var got []int
	f := OnEach(ofInts(1, 2, 3), func(v int) { got = append(got, v) })
	job := LaunchIn(jobCtx(), f)
	job.Join()
	require.Equal(t, []int{1, 2, 3}, got)
}
