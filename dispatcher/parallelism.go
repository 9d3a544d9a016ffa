package dispatcher

import (
	"runtime"

	"github.com/concord-rt/concord/config"
)

// defaultParallelism sizes Default's fixed pool. A nonzero
// config.Active().DefaultParallelism wins outright (host-supplied tuning,
// e.g. from CONCORD_CONFIG_FILE); otherwise it falls back to GOMAXPROCS,
// which by the time this runs has already been adjusted for container CPU
// quotas by the blank-imported go.uber.org/automaxprocs/maxprocs package
// init.
func defaultParallelism() uint {
	if n := config.Active().DefaultParallelism; n > 0 {
		return n
	}
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return uint(n)
}
