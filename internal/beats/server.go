package beats

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/beatsd/internal/observability"
	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/session"
	"github.com/danmuck/beatsd/internal/protocol/stream"
)

const readBufferSize = 32 * 1024

// Config is the server's read-only runtime configuration.
type Config struct {
	ListenAddr string
	Limits     protocol.Limits
	Session    session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":5044",
		Limits:     protocol.DefaultLimits(),
		Session:    session.DefaultConfig(),
	}
}

// ConnInfo is a point-in-time view of one open connection.
type ConnInfo struct {
	ID         string    `json:"id"`
	LocalAddr  string    `json:"local_addr"`
	RemoteAddr string    `json:"remote_addr"`
	OpenedAt   time.Time `json:"opened_at"`
	State      string    `json:"state"`
	KeepAlive  bool      `json:"keep_alive"`
	Batches    uint64    `json:"batches"`
	Messages   uint64    `json:"messages"`
	LastAck    uint32    `json:"last_ack"`
}

type tracked struct {
	conn    *Conn
	handler *Handler
}

// Server accepts Lumberjack connections and runs one read/dispatch
// goroutine plus one keep-alive goroutine per connection.
type Server struct {
	cfg      Config
	listener Listener
	log      zerolog.Logger

	connsMu sync.Mutex
	conns   map[string]tracked
	wg      sync.WaitGroup

	serving atomic.Bool
}

func NewServer(cfg Config, listener Listener) *Server {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	cfg.Session = cfg.Session.WithDefaults()
	if listener == nil {
		listener = NopListener{}
	}
	return &Server{
		cfg:      cfg,
		listener: listener,
		log:      observability.ComponentLogger("beats"),
		conns:    make(map[string]tracked),
	}
}

// Listen opens a TCP or TLS listener per the session transport policy.
func (s *Server) Listen() (net.Listener, error) {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. On shutdown every
// open connection is closed and Serve waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAllConns()
	})
	defer stop()

	s.serving.Store(true)
	defer s.serving.Store(false)
	s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.Session.TLS.Enabled).Msg("beats server listening")

	var tempDelay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				s.log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept error")
				time.Sleep(tempDelay)
				continue
			}
			s.wg.Wait()
			return err
		}
		tempDelay = 0
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, nc)
		}()
	}
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.serving.Load()
}

// Snapshot lists open connections ordered by open time.
func (s *Server) Snapshot() []ConnInfo {
	s.connsMu.Lock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, t := range s.conns {
		c := t.conn
		out = append(out, ConnInfo{
			ID:         c.ID(),
			LocalAddr:  addrString(c.local),
			RemoteAddr: addrString(c.remote),
			OpenedAt:   c.openedAt,
			State:      t.handler.State().String(),
			KeepAlive:  c.KeepAlive(),
			Batches:    c.batches.Load(),
			Messages:   c.messages.Load(),
			LastAck:    c.lastAck.Load(),
		})
	}
	s.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	conn := NewConn(ctx, nc, s.cfg.Session.WriteTimeout)
	h := NewHandler(conn, s.listener)
	s.track(conn, h)
	if ctx.Err() != nil {
		// accepted while shutting down
		s.untrack(conn)
		_ = conn.Close()
		return
	}
	observability.RecordConnectionOpened()
	defer func() {
		_ = conn.Close()
		s.untrack(conn)
		observability.RecordConnectionClosed()
		s.listener.OnConnectionClose(conn)
		conn.log.Debug().Msg("connection closed")
	}()

	if err := initConn(nc); err != nil {
		s.listener.OnChannelInitializeException(conn, err)
		conn.log.Warn().Err(err).Msg("connection setup failed")
		return
	}
	conn.log.Debug().Msg("connection active")
	s.listener.OnNewConnection(conn)

	if tlsConn, ok := nc.(*tls.Conn); ok {
		if err := s.handshake(conn, tlsConn); err != nil {
			h.Fail(err)
			return
		}
	}

	go conn.runKeepAlive(s.cfg.Session.KeepAliveInterval)
	if err := s.readLoop(conn, h); err != nil {
		h.Fail(err)
	}
}

func initConn(nc net.Conn) error {
	if tlsConn, ok := nc.(*tls.Conn); ok {
		nc = tlsConn.NetConn()
	}
	tcp, ok := nc.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetKeepAlive(true); err != nil {
		return fmt.Errorf("beats: enable tcp keepalive: %w", err)
	}
	return tcp.SetNoDelay(true)
}

func (s *Server) handshake(conn *Conn, tlsConn *tls.Conn) error {
	hctx, cancel := context.WithTimeout(conn.ctx, s.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	state := tlsConn.ConnectionState()
	ev := conn.log.Debug().Str("tls_version", tls.VersionName(state.Version))
	if len(state.PeerCertificates) > 0 {
		ev = ev.Str("peer", state.PeerCertificates[0].Subject.CommonName)
	}
	ev.Msg("tls handshake complete")
	return nil
}

// readLoop feeds the decoder and dispatches completed batches in order.
// A nil return means the connection ended without a fatal error.
func (s *Server) readLoop(conn *Conn, h *Handler) error {
	dec := stream.NewDecoder(s.cfg.Limits)
	buf := make([]byte, readBufferSize)
	var inflated uint64
	inactivity := s.cfg.Session.ClientInactivityTimeout

	for {
		_ = conn.netConn.SetReadDeadline(time.Now().Add(inactivity))
		n, readErr := conn.netConn.Read(buf)
		if n > 0 {
			feedErr := dec.Feed(buf[:n])
			if total := dec.Stats().InflatedBytes; total > inflated {
				observability.RecordInflatedBytes(total - inflated)
				inflated = total
			}
			if _, open := dec.Open(); open {
				conn.SetKeepAlive(true)
			}
			// batches completed before a decode error are still delivered
			for b, ok := dec.Next(); ok; b, ok = dec.Next() {
				if err := h.HandleBatch(conn.ctx, b); err != nil {
					if conn.Closed() {
						return nil
					}
					return err
				}
			}
			if _, open := dec.Open(); open {
				conn.SetKeepAlive(true)
			}
			if feedErr != nil {
				return fmt.Errorf("%w: %w", ErrDecode, feedErr)
			}
		}
		if readErr == nil {
			continue
		}

		switch {
		case conn.Closed(), errors.Is(readErr, net.ErrClosed):
			return nil
		case errors.Is(readErr, io.EOF):
			if open, ok := dec.Open(); ok {
				conn.log.Debug().Int("received", open.Len()).Uint32("declared", open.Size()).Msg("peer closed with partial batch")
			}
			return nil
		case errors.Is(readErr, os.ErrDeadlineExceeded):
			if conn.KeepAlive() {
				continue
			}
			conn.log.Debug().Dur("timeout", inactivity).Msg("closing inactive connection")
			observability.RecordError(errorKind(ErrClientInactive))
			return nil
		default:
			return readErr
		}
	}
}

func (s *Server) track(conn *Conn, h *Handler) {
	s.connsMu.Lock()
	s.conns[conn.id] = tracked{conn: conn, handler: h}
	s.connsMu.Unlock()
}

func (s *Server) untrack(conn *Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn.id)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, t := range s.conns {
		_ = t.conn.Close()
	}
}
