package concord

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord/dispatcher"
)

func TestLaunch_StartDefault(t *testing.T) {
	done := make(chan struct{})
	job := Launch(Background(), StartDefault, func(ctx Context) {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("body never ran")
	}
	job.Join()
	require.True(t, job.IsCompleted())
	require.Nil(t, job.FailureOrNil())
}

func TestLaunch_PanicBecomesFailure(t *testing.T) {
	job := Launch(Background(), StartDefault, func(ctx Context) {
		panic("kaboom")
	})
	job.Join()
	require.True(t, job.IsCompleted())
	require.Error(t, job.FailureOrNil())
}

func TestLaunch_StartLazyDoesNotRunUntilJoined(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := Launch(Background(), StartLazy, func(ctx Context) {
		ran <- struct{}{}
	})

	select {
	case <-ran:
		t.Fatal("lazy coroutine ran before Start/Join")
	case <-time.After(20 * time.Millisecond):
	}

	job.Join()
	select {
	case <-ran:
	default:
		t.Fatal("lazy coroutine never ran after Join")
	}
}

func TestLaunch_StartUndispatchedRunsSynchronouslyUpFront(t *testing.T) {
	ranSynchronously := false
	job := Launch(Background(), StartUndispatched, func(ctx Context) {
		ranSynchronously = true
	})
	require.True(t, ranSynchronously)
	job.Join()
}

func TestAsync_AwaitReturnsValue(t *testing.T) {
	d := Async(Background(), StartDefault, func(ctx Context) (int, error) {
		return 99, nil
	})
	v, err := d.Await()
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

func TestAsync_AwaitPropagatesFailure(t *testing.T) {
	failure := errors.New("async boom")
	d := Async(Background(), StartDefault, func(ctx Context) (int, error) {
		return 0, failure
	})
	_, err := d.Await()
	require.ErrorIs(t, err, failure)
}

func TestLaunch_UnconfinedRunsOnCallingGoroutine(t *testing.T) {
	callers := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		Launch(WithDispatcher(Background(), dispatcher.Unconfined), StartDefault, func(ctx Context) {
			close(done)
		})
		// The body ran on this goroutine iff it finished before Launch returned.
		select {
		case <-done:
			callers <- 1
		default:
			callers <- 0
		}
	}()
	<-done
	require.Equal(t, 1, <-callers)
}

func TestLaunch_UnconfinedNestedLaunchDrainsAfterOuterReturnsInsteadOfRecursing(t *testing.T) {
	// A coroutine running on Unconfined that itself Launches another
	// Unconfined coroutine from inside its body must not run the nested
	// body inline (that would grow the call stack recursively): it queues
	// behind the outer body and only drains once the outer body returns.
	ctx := WithDispatcher(Background(), dispatcher.Unconfined)

	var order []string
	var inner *Job
	outer := Launch(ctx, StartDefault, func(ctx Context) {
		order = append(order, "outer-start")
		inner = Launch(ctx, StartDefault, func(ctx Context) {
			order = append(order, "inner")
		})
		order = append(order, "outer-end")
	})

	require.True(t, outer.IsCompleted())
	require.True(t, inner.IsCompleted())
	require.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestSupervisorScope_WaitsForChildren(t *testing.T) {
	var ran int32
	SupervisorScope(Background(), func(ctx Context) {
		Launch(ctx, StartDefault, func(ctx Context) {
			ran = 1
		})
	})
	require.Equal(t, int32(1), ran)
}
