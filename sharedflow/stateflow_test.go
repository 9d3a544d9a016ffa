package sharedflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutableStateFlow_ValueSeededOnConstruction(t *testing.T) {
	s := NewMutableStateFlow(10)
	require.Equal(t, 10, s.Value())
}

func TestMutableStateFlow_SetIsNoOpWhenEqual(t *testing.T) {
	s := NewMutableStateFlow(10)
	sub := s.Subscribe()
	defer sub.Unsubscribe()

	// Drain the replayed seed value first.
	v, err := sub.Next(jobCtx())
	require.NoError(t, err)
	require.Equal(t, 10, v)

	s.Set(10) // equal to current: no emission

	done := make(chan int, 1)
	go func() {
		v, _ := sub.Next(jobCtx())
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Set with an equal value should not notify subscribers")
	default:
	}

	s.Set(11)
	select {
	case v := <-done:
		require.Equal(t, 11, v)
	case <-time.After(time.Second):
		t.Fatal("Set with a new value never notified the subscriber")
	}
}

func TestMutableStateFlow_NewSubscriberSeesCurrentValue(t *testing.T) {
	s := NewMutableStateFlow("a")
	s.Set("b")

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	v, err := sub.Next(jobCtx())
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestMutableStateFlow_SubscriptionCountFlowIsLive(t *testing.T) {
	s := NewMutableStateFlow(0)
	require.Equal(t, 0, s.SubscriptionCountFlow().Value())
	sub := s.Subscribe()
	require.Equal(t, 1, s.SubscriptionCountFlow().Value())
	sub.Unsubscribe()
	require.Equal(t, 0, s.SubscriptionCountFlow().Value())
}
