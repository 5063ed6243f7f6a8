package echoping

import (
	"context"
	"time"
)

// Drive sends a ping on a fixed cadence until ctx is cancelled, the session
// ends, or SendPing refuses a send (ErrNotActive, as for a session that is
// not yet Active). The engine sends one packet per explicit request; this is
// the driver supplying that cadence for the common case.
func Drive(ctx context.Context, p *Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			return
		case <-ticker.C:
			if err := p.SendPing(nil); err != nil {
				return
			}
		}
	}
}
