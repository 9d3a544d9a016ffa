package flow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord/channel"
	"github.com/concord-rt/concord/dispatcher"
)

// nopDispatcher is a test double only: it never actually dispatches, since
// the fusion tests here only inspect which Dispatcher survived fusion.
type nopDispatcher struct{ name string }

func (d nopDispatcher) Name() string                { return d.name }
func (d nopDispatcher) Dispatch(dispatcher.Runnable) {}
func (d nopDispatcher) Close()                       {}

func TestBuffer_DeliversAllValuesThroughRealChannel(t *testing.T) {
	f := Buffer(ofInts(1, 2, 3, 4, 5), 2, channel.Suspend)
	out, err := ToList(jobCtx(), f)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, out)
}

func TestFlowOn_KeepsFirstDispatcherOnFusion(t *testing.T) {
	f := FlowOn(FlowOn(ofInts(1), nopDispatcher{"first"}), nopDispatcher{"second"})
	cf, ok := asChannelFlow(f)
	require.True(t, ok)
	require.Equal(t, "first", cf.dispatcher.Name())
}
