package concord

import "github.com/concord-rt/concord/rtlog"

// defaultUnhandledExceptionReporter backs UnhandledExceptionReporter
// (errors.go). It lives in its own file so the dependency on
// concord/rtlog is easy to spot and swap in isolation.
func defaultUnhandledExceptionReporter(ctx Context, err error) {
	name := "<unnamed>"
	id := ""
	if j, ok := JobOf(ctx); ok {
		id = j.ID()
		if n := j.Name(); n != "" {
			name = n
		}
	}
	rtlog.UnhandledException(name, id, err)
}
