package beats

import "github.com/danmuck/beatsd/internal/protocol/batch"

// Listener receives connection lifecycle events and decoded messages.
// All calls for one connection come from that connection's goroutine,
// except OnConnectionClose which may follow a close from another goroutine.
type Listener interface {
	// OnNewConnection fires once before any batch is read.
	OnNewConnection(c *Conn)
	// OnNewMessage receives messages in batch insertion order. A non-nil
	// error is fatal to the connection. It must not block indefinitely;
	// c.Context() is canceled when the connection closes.
	OnNewMessage(c *Conn, m *batch.Message) error
	// OnConnectionClose fires once when the connection terminates.
	OnConnectionClose(c *Conn)
	// OnException receives every fatal decode or dispatch error except
	// TLS handshake failures. The connection is closed right after.
	OnException(c *Conn, err error)
	// OnChannelInitializeException receives errors from connection setup.
	OnChannelInitializeException(c *Conn, err error)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnNewConnection(*Conn)                     {}
func (NopListener) OnNewMessage(*Conn, *batch.Message) error  { return nil }
func (NopListener) OnConnectionClose(*Conn)                   {}
func (NopListener) OnException(*Conn, error)                  {}
func (NopListener) OnChannelInitializeException(*Conn, error) {}
