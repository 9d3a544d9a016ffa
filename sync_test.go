package concord

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphore_FIFOOrdering(t *testing.T) {
	sem := NewSemaphore(1)
	ctx := WithJob(Background(), NewJob(nil))
	require.NoError(t, sem.Acquire(ctx))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		i := i
		job := NewJob(nil)
		job.Start()
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			require.NoError(t, sem.Acquire(WithJob(Background(), job)))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			sem.Release()
		}()
		<-started
		time.Sleep(10 * time.Millisecond) // best-effort: let each goroutine park before the next starts
	}

	sem.Release()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, order)
}

func TestSemaphore_CancelledAcquireDoesNotConsumePermit(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(WithJob(Background(), NewJob(nil))))

	job := NewJob(nil)
	job.Start()
	ctx := WithJob(Background(), job)

	done := make(chan error, 1)
	go func() { done <- sem.Acquire(ctx) }()
	time.Sleep(10 * time.Millisecond)
	job.Cancel(nil)

	err := <-done
	require.True(t, IsCancellation(err))

	sem.Release()
	require.NoError(t, sem.Acquire(WithJob(Background(), NewJob(nil))))
}

func TestMutex_MutualExclusion(t *testing.T) {
	m := NewMutex()
	counter := 0
	var wg sync.WaitGroup
	var raced int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := NewJob(nil)
			job.Start()
			ctx := WithJob(Background(), job)
			require.NoError(t, m.Lock(ctx))
			local := counter
			atomic.AddInt32(&raced, 1)
			counter = local + 1
			m.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 20, counter)
	require.Equal(t, int32(20), raced)
}

func TestWithTimeout_FiresBeforeBodyCompletes(t *testing.T) {
	ctx := WithJob(Background(), NewJob(nil))
	_, err := WithTimeout(ctx, 20*time.Millisecond, func(ctx Context) (int, error) {
		job, _ := JobOf(ctx)
		<-job.Done()
		return 0, job.FailureOrNil()
	})

	var tce *TimeoutCancellationException
	require.ErrorAs(t, err, &tce)
}

func TestWithTimeout_BodyFinishesFirst(t *testing.T) {
	ctx := WithJob(Background(), NewJob(nil))
	v, err := WithTimeout(ctx, time.Second, func(ctx Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
}
