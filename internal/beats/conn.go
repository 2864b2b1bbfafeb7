package beats

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/frame"
)

// Conn is the per-connection context handed to Listener callbacks.
type Conn struct {
	id       string
	netConn  net.Conn
	local    net.Addr
	remote   net.Addr
	openedAt time.Time
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// keepAlive is set while a batch is being received or dispatched and
	// read by the keep-alive timer.
	keepAlive atomic.Bool

	writeTimeout time.Duration
	wmu          sync.Mutex
	w            *bufio.Writer
	lastWrite    atomic.Int64

	batches  atomic.Uint64
	messages atomic.Uint64
	lastAck  atomic.Uint32

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an accepted connection. Server calls it for every accept.
func NewConn(parent context.Context, nc net.Conn, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(parent)
	id := xid.New().String()
	now := time.Now()
	c := &Conn{
		id:           id,
		netConn:      nc,
		local:        nc.LocalAddr(),
		remote:       nc.RemoteAddr(),
		openedAt:     now,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		w:            bufio.NewWriterSize(nc, 512),
	}
	c.log = log.Logger.With().
		Str("conn_id", id).
		Str("local", addrString(c.local)).
		Str("remote", addrString(c.remote)).
		Logger()
	c.lastWrite.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *Conn) OpenedAt() time.Time {
	return c.openedAt
}

// Logger is tagged with the connection id and addresses.
func (c *Conn) Logger() *zerolog.Logger {
	return &c.log
}

// Context is canceled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

func (c *Conn) KeepAlive() bool {
	return c.keepAlive.Load()
}

func (c *Conn) SetKeepAlive(v bool) {
	c.keepAlive.Store(v)
}

func (c *Conn) String() string {
	return "[local: " + addrString(c.local) + ", remote: " + addrString(c.remote) + "]"
}

// WriteAck buffers an ack frame. Acks reach the wire in write order on Flush.
func (c *Conn) WriteAck(version protocol.Version, sequence uint32) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ctx.Err() != nil {
		return ErrConnClosed
	}
	var buf [frame.AckLen]byte
	if _, err := c.w.Write(frame.AppendAck(buf[:0], version, sequence)); err != nil {
		return err
	}
	if sequence != 0 {
		c.lastAck.Store(sequence)
	}
	return nil
}

func (c *Conn) Flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.flushLocked()
}

func (c *Conn) flushLocked() error {
	if c.w.Buffered() == 0 {
		return nil
	}
	if c.writeTimeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// writeKeepAlive writes and flushes a sequence-0 ack in one step.
func (c *Conn) writeKeepAlive() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ctx.Err() != nil {
		return ErrConnClosed
	}
	var buf [frame.AckLen]byte
	if _, err := c.w.Write(frame.AppendAck(buf[:0], protocol.Version2, 0)); err != nil {
		return err
	}
	return c.flushLocked()
}

// writerIdle is the time since the last flush that put bytes on the wire.
func (c *Conn) writerIdle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastWrite.Load()))
}

// Close closes the socket once and cancels Context.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.netConn.Close()
	})
	return c.closeErr
}

func (c *Conn) Closed() bool {
	return c.ctx.Err() != nil
}

func addrString(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.AddrPort().String()
	}
	if addr == nil {
		return "undefined"
	}
	return addr.String()
}
