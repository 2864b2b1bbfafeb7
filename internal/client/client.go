// Package client is a Lumberjack sender: it frames events as one batch,
// writes them, and waits for the ack of the batch's highest sequence.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/protocol/frame"
	"github.com/danmuck/beatsd/internal/protocol/session"
	"github.com/danmuck/beatsd/internal/protocol/stream"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrNoEvents        = errors.New("client: no events to send")
	ErrAckTimeout      = errors.New("client: ack timeout")
	ErrUnexpectedAck   = errors.New("client: unexpected ack")
	ErrNotConnected    = errors.New("client: not connected")
)

type Config struct {
	Address  string
	Version  protocol.Version
	Compress bool
	Session  session.Config
	// MaxConnectAttempts bounds dials per Connect; zero retries until ctx ends.
	MaxConnectAttempts int
	// MaxSendAttempts bounds resends per Publish; zero means one attempt.
	MaxSendAttempts int
}

func DefaultConfig() Config {
	return Config{
		Version:         protocol.Version2,
		Compress:        true,
		Session:         session.DefaultConfig(),
		MaxSendAttempts: 3,
	}
}

type Client struct {
	cfg Config
	rng *rand.Rand

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.Version == 0 {
		cfg.Version = protocol.Version2
	}
	if !cfg.Version.Valid() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedVersion, cfg.Version)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	now := uint64(time.Now().UnixNano())
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(now, now>>1)),
	}, nil
}

// Connect dials the server, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			c.conn = conn
			c.reader = bufio.NewReader(conn)
			log.Debug().Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("beats client connected")
			return nil
		}
		log.Warn().Err(err).Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("beats client dial failed")
		if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
			return err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout, KeepAlive: 15 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.cfg.Session.ClientTLSConfig(c.cfg.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Publish sends events as one batch, reconnecting and resending the whole
// batch when no ack arrives. It returns the acked sequence.
func (c *Client) Publish(ctx context.Context, events []map[string]any) (uint32, error) {
	b, err := c.buildBatch(events)
	if err != nil {
		return 0, err
	}
	wire, err := stream.EncodeBatch(b, c.cfg.Compress)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	attempts := max(c.cfg.MaxSendAttempts, 1)
	for attempt := 1; ; attempt++ {
		if err = c.connectLocked(ctx); err == nil {
			var acked uint32
			if acked, err = c.sendLocked(ctx, wire, b.HighestSequence()); err == nil {
				return acked, nil
			}
			_ = c.closeLocked()
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("events", len(events)).Msg("beats client send failed")
		if attempt >= attempts || ctx.Err() != nil {
			return 0, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return 0, err
		}
	}
}

// Send writes events as one batch on the current connection and waits for
// its ack without retrying.
func (c *Client) Send(ctx context.Context, events []map[string]any) (uint32, error) {
	b, err := c.buildBatch(events)
	if err != nil {
		return 0, err
	}
	wire, err := stream.EncodeBatch(b, c.cfg.Compress)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0, ErrNotConnected
	}
	return c.sendLocked(ctx, wire, b.HighestSequence())
}

// buildBatch numbers events 1..N in order.
func (c *Client) buildBatch(events []map[string]any) (*batch.Batch, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	b, err := batch.New(c.cfg.Version, uint32(len(events)))
	if err != nil {
		return nil, err
	}
	for i, ev := range events {
		if err := b.Add(batch.NewMapMessage(uint32(i+1), ev)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (c *Client) sendLocked(ctx context.Context, wire []byte, highest uint32) (uint32, error) {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.cfg.Session.WriteTimeout)); err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(wire); err != nil {
		return 0, err
	}
	return c.awaitAck(ctx, highest)
}

// awaitAck reads acks until one carries highest. Keep-alive acks
// (sequence 0) restart the ack timeout.
func (c *Client) awaitAck(ctx context.Context, highest uint32) (uint32, error) {
	var buf [frame.AckLen]byte
	for {
		if err := c.conn.SetReadDeadline(c.deadline(ctx, c.cfg.Session.AckTimeout)); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(c.reader, buf[:]); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return 0, ctxErr
				}
				return 0, fmt.Errorf("%w: waiting for sequence %d", ErrAckTimeout, highest)
			}
			return 0, err
		}
		f, _, err := frame.Parse(buf[:], protocol.DefaultLimits())
		if err != nil {
			return 0, err
		}
		ack, ok := f.(frame.Ack)
		if !ok {
			return 0, fmt.Errorf("%w: %s frame", ErrUnexpectedAck, f.FrameHeader().Code)
		}
		switch {
		case ack.Sequence == 0:
			log.Trace().Str("addr", c.cfg.Address).Msg("keep-alive ack")
		case ack.Sequence == highest:
			return ack.Sequence, nil
		case ack.Sequence < highest:
			log.Debug().Uint32("sequence", ack.Sequence).Uint32("want", highest).Msg("partial ack")
		default:
			return 0, fmt.Errorf("%w: sequence %d above %d", ErrUnexpectedAck, ack.Sequence, highest)
		}
	}
}

func (c *Client) deadline(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
