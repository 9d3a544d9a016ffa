package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord/channel"
)

func TestReceiveAsFlow_CollectsExactlyTheValuesSentBeforeClose(t *testing.T) {
	ch := channel.New[int](4, channel.Suspend)
	for _, v := range []int{1, 2, 3} {
		require.NoError(t, ch.Send(jobCtx(), v))
	}
	ch.Close(nil)

	out, err := ToList(jobCtx(), ReceiveAsFlow[int](ch))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)
}

func TestReceiveAsFlow_PropagatesCloseCause(t *testing.T) {
	ch := channel.New[int](1, channel.Suspend)
	cause := errors.New("boom")
	ch.Close(cause)

	_, err := ToList(jobCtx(), ReceiveAsFlow[int](ch))
	require.ErrorIs(t, err, cause)
}
