package listener

import (
	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/protocol/batch"
)

// Fanout forwards every callback to each listener in order. OnNewMessage
// stops at the first error.
type Fanout []beats.Listener

func (f Fanout) OnNewConnection(c *beats.Conn) {
	for _, l := range f {
		l.OnNewConnection(c)
	}
}

func (f Fanout) OnNewMessage(c *beats.Conn, m *batch.Message) error {
	for _, l := range f {
		if err := l.OnNewMessage(c, m); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) OnConnectionClose(c *beats.Conn) {
	for _, l := range f {
		l.OnConnectionClose(c)
	}
}

func (f Fanout) OnException(c *beats.Conn, err error) {
	for _, l := range f {
		l.OnException(c, err)
	}
}

func (f Fanout) OnChannelInitializeException(c *beats.Conn, err error) {
	for _, l := range f {
		l.OnChannelInitializeException(c, err)
	}
}
