package listener

import (
	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/protocol/batch"
)

// Direct writes each message to its sink on the connection goroutine, so
// a batch is acked only after every event has been written.
type Direct struct {
	lifecycle
	sink Sink
}

func NewDirect(sink Sink) *Direct {
	return &Direct{sink: sink}
}

func (d *Direct) OnNewMessage(c *beats.Conn, m *batch.Message) error {
	ev, err := NewEvent(c, m)
	if err != nil {
		return err
	}
	return d.sink.Write(c.Context(), ev)
}

// lifecycle logs connection events through the connection's logger.
type lifecycle struct{}

func (lifecycle) OnNewConnection(c *beats.Conn) {
	c.Logger().Info().Msg("beats connection opened")
}

func (lifecycle) OnConnectionClose(c *beats.Conn) {
	c.Logger().Info().Msg("beats connection closed")
}

func (lifecycle) OnException(c *beats.Conn, err error) {
	c.Logger().Warn().Err(err).Msg("beats connection failed")
}

func (lifecycle) OnChannelInitializeException(c *beats.Conn, err error) {
	c.Logger().Error().Err(err).Msg("beats connection setup failed")
}
