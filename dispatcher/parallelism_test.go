package dispatcher

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-rt/concord/config"
)

func TestDefaultParallelism_FallsBackToGOMAXPROCSWhenUnconfigured(t *testing.T) {
	t.Cleanup(func() { config.SetActive(config.Default()) })
	config.SetActive(config.Default())

	want := runtime.GOMAXPROCS(0)
	if want < 1 {
		want = 1
	}
	require.Equal(t, uint(want), defaultParallelism())
}

func TestDefaultParallelism_HonorsConfiguredOverride(t *testing.T) {
	t.Cleanup(func() { config.SetActive(config.Default()) })
	config.SetActive(config.New(config.WithDefaultParallelism(5)))

	require.Equal(t, uint(5), defaultParallelism())
}
