package echoping

import (
	"fmt"

	"github.com/edge/logger"
)

// LogEvents traces a session's event stream before passing it on, including
// failures at both the send and session level.
func LogEvents(log *logger.Instance, context string, next EventFunc) EventFunc {
	return func(e Event) {
		lc := log.Context(context)
		switch ev := e.(type) {
		case Started:
			lc.Label("event", "started").Trace(fmt.Sprintf("session up at %s", ev.Addr.String()))
		case Sent:
			lc.Label("event", "sent").Trace(fmt.Sprintf("sent %dB seq=%d", len(ev.Packet), ev.Seq))
		case SendFailed:
			lc.Label("event", "send-failed").Label("seq", fmt.Sprint(ev.Seq)).Error(ev.Err)
		case Received:
			lc.Label("event", "received").Trace(fmt.Sprintf("received %dB seq=%d", len(ev.Packet), ev.Seq))
		case Unexpected:
			lc.Label("event", "unexpected").Trace(fmt.Sprintf("discarded %dB", len(ev.Packet)))
		case Failed:
			lc.Label("event", "failed").Error(ev.Err)
		}
		next(e)
	}
}
