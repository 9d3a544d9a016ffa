package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeContinuation string

func (c fakeContinuation) ID() string { return string(c) }

func TestProbe_UninstalledHooksAreNoOps(t *testing.T) {
	Uninstall()
	require.False(t, Active())
	require.NotPanics(t, func() {
		Created(fakeContinuation("a"))
		Suspended(fakeContinuation("a"))
		Resumed(fakeContinuation("a"), 1, nil)
	})
}

func TestProbe_InstallReceivesLifecycleEvents(t *testing.T) {
	defer Uninstall()

	var created, suspended, resumed []string
	Install(Hooks{
		OnCreated:   func(c Continuation) { created = append(created, c.ID()) },
		OnSuspended: func(c Continuation) { suspended = append(suspended, c.ID()) },
		OnResumed: func(c Continuation, value any, err error) {
			resumed = append(resumed, c.ID())
		},
	})
	require.True(t, Active())

	Created(fakeContinuation("x"))
	Suspended(fakeContinuation("x"))
	Resumed(fakeContinuation("x"), 42, nil)

	require.Equal(t, []string{"x"}, created)
	require.Equal(t, []string{"x"}, suspended)
	require.Equal(t, []string{"x"}, resumed)
}

func TestProbe_InstallReplacesPreviousHooks(t *testing.T) {
	defer Uninstall()

	var firstCalled, secondCalled bool
	Install(Hooks{OnCreated: func(Continuation) { firstCalled = true }})
	Install(Hooks{OnCreated: func(Continuation) { secondCalled = true }})

	Created(fakeContinuation("y"))
	require.False(t, firstCalled)
	require.True(t, secondCalled)
}

func TestProbe_UninstallClearsActive(t *testing.T) {
	Install(Hooks{OnCreated: func(Continuation) {}})
	require.True(t, Active())
	Uninstall()
	require.False(t, Active())
}
