package beats

import (
	"time"

	"github.com/danmuck/beatsd/internal/observability"
)

// runKeepAlive sends a keep-alive ack each time the writer has been idle
// for interval while the connection's keep-alive flag is set. It exits
// when the connection closes or a write fails.
func (c *Conn) runKeepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		idle := c.writerIdle(time.Now())
		if idle < interval {
			timer.Reset(interval - idle)
			continue
		}
		if c.KeepAlive() {
			if err := c.writeKeepAlive(); err != nil {
				c.log.Debug().Err(err).Msg("keep-alive write failed")
				return
			}
			observability.RecordAck("keepalive")
			c.log.Trace().Msg("sent keep-alive ack")
		}
		timer.Reset(interval)
	}
}
