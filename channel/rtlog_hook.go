package channel

import "github.com/concord-rt/concord/rtlog"

func defaultUndeliveredElementReporter(channelName, reason string) {
	rtlog.UndeliveredElement(channelName, reason)
}
