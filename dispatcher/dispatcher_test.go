package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord/dispatcher/pool"
)

func newTestDispatcher(capacity uint) *poolDispatcher {
	return newPoolDispatcher("test", pool.NewFixed(capacity, func() interface{} { return &poolWorker{} }))
}

func TestPoolDispatcher_RunsDispatchedWork(t *testing.T) {
	d := newTestDispatcher(2)
	defer d.Close()

	done := make(chan struct{})
	d.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatched Runnable never ran")
	}
}

func TestPoolDispatcher_RecoversPanicsWithoutCrashingWorker(t *testing.T) {
	d := newTestDispatcher(1)
	defer d.Close()

	d.Dispatch(func() { panic("boom") })

	done := make(chan struct{})
	d.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stopped processing work after a panicking task")
	}
}

func TestPoolDispatcher_DispatchAfterClosePanics(t *testing.T) {
	d := newTestDispatcher(1)
	d.Close()
	require.Panics(t, func() { d.Dispatch(func() {}) })
}

func TestPoolDispatcher_CloseWaitsForInFlightWork(t *testing.T) {
	d := newTestDispatcher(4)
	var ran int32
	for i := 0; i < 10; i++ {
		d.Dispatch(func() { atomic.AddInt32(&ran, 1) })
	}
	d.Close()
	require.Equal(t, int32(10), ran)
}

func TestPoolDispatcher_SerialDispatchesReuseASinglePooledWorker(t *testing.T) {
	var created int32
	p := pool.NewFixed(1, func() interface{} {
		atomic.AddInt32(&created, 1)
		return &poolWorker{}
	})
	d := newPoolDispatcher("test", p)
	defer d.Close()

	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		d.Dispatch(func() { close(done) })
		<-done
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestLimitedParallelism_CapsConcurrentRunners(t *testing.T) {
	underlying := newTestDispatcher(8)
	defer underlying.Close()

	limited := LimitedParallelism(underlying, 2, "")

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		limited.Dispatch(func() {
			defer wg.Done()
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		})
	}
	wg.Wait()
	require.LessOrEqual(t, peak, 2)
}

func TestUnconfined_RunsSynchronously(t *testing.T) {
	ranBeforeReturn := false
	Unconfined.Dispatch(func() { ranBeforeReturn = true })
	require.True(t, ranBeforeReturn)
}
