package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetProvider_RoutesInstrumentsToInstalledProvider(t *testing.T) {
	prev := current()
	defer SetProvider(prev)

	p := NewBasicProvider()
	SetProvider(p)

	JobsActive().Add(3)
	JobsActive().Add(-1)
	JobsCompleted().Add(1)

	bc, ok := p.Counter("concord.jobs.completed").(*BasicCounter)
	require.True(t, ok)
	require.Equal(t, int64(1), bc.Snapshot())

	bu, ok := p.UpDownCounter("concord.jobs.active").(*BasicUpDownCounter)
	require.True(t, ok)
	require.Equal(t, int64(2), bu.Snapshot())
}

func TestSetProvider_NilFallsBackToNoop(t *testing.T) {
	prev := current()
	defer SetProvider(prev)

	SetProvider(nil)
	require.NotPanics(t, func() { JobsActive().Add(1) })
}

func TestNoopProvider_NeverPanics(t *testing.T) {
	p := NewNoopProvider()
	require.NotPanics(t, func() {
		p.Counter("x").Add(1)
		p.UpDownCounter("y").Add(-1)
		p.Histogram("z").Record(1.5)
	})
}
