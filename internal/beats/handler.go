package beats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danmuck/beatsd/internal/observability"
	"github.com/danmuck/beatsd/internal/protocol/batch"
)

// State is the dispatcher state of one connection.
type State uint32

const (
	StateIdle State = iota
	StateDispatching
)

func (s State) String() string {
	if s == StateDispatching {
		return "dispatching"
	}
	return "idle"
}

// Handler dispatches completed batches of one connection to a Listener
// and acks each batch once, on the message whose sequence equals the
// batch's highest sequence.
type Handler struct {
	conn     *Conn
	listener Listener
	state    atomic.Uint32
}

func NewHandler(conn *Conn, listener Listener) *Handler {
	if listener == nil {
		listener = NopListener{}
	}
	return &Handler{conn: conn, listener: listener}
}

func (h *Handler) State() State {
	return State(h.state.Load())
}

// HandleBatch delivers every message of b in insertion order. Whatever
// the outcome, the keep-alive flag is cleared, b is released and pending
// acks are flushed before it returns. A returned error is connection-fatal.
func (h *Handler) HandleBatch(ctx context.Context, b *batch.Batch) (err error) {
	version := b.Protocol().String()
	ctx, span := observability.Tracer().Start(ctx, "beats.dispatch", trace.WithAttributes(
		attribute.String("beats.conn_id", h.conn.ID()),
		attribute.String("beats.version", version),
		attribute.Int("beats.batch_size", b.Len()),
		attribute.Int64("beats.highest_sequence", int64(b.HighestSequence())),
	))
	defer span.End()

	start := time.Now()
	size := b.Len()
	h.state.Store(uint32(StateDispatching))
	h.conn.SetKeepAlive(true)
	h.conn.log.Debug().Str("version", version).Int("size", size).Msg("received a new payload")

	defer func() {
		h.conn.SetKeepAlive(false)
		b.Release()
		h.state.Store(uint32(StateIdle))
		if flushErr := h.conn.Flush(); flushErr != nil && err == nil {
			err = fmt.Errorf("beats: flush ack: %w", flushErr)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		h.conn.batches.Add(1)
		observability.RecordBatch(version, size, time.Since(start))
	}()

	highest := b.HighestSequence()
	for m := range b.All() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		h.conn.log.Trace().Uint32("sequence", m.Sequence()).Msg("sending a new message for the listener")
		if deliverErr := h.listener.OnNewMessage(h.conn, m); deliverErr != nil {
			return fmt.Errorf("%w: sequence %d: %w", ErrDelivery, m.Sequence(), deliverErr)
		}
		h.conn.messages.Add(1)
		if m.Sequence() == highest {
			h.conn.log.Trace().Uint32("sequence", m.Sequence()).Msg("acking message")
			if ackErr := h.conn.WriteAck(b.Protocol(), m.Sequence()); ackErr != nil {
				return fmt.Errorf("beats: write ack: %w", ackErr)
			}
			observability.RecordAck("batch")
		}
	}
	return nil
}

// Fail is the single exit path for fatal errors: report, flush, close.
// TLS handshake failures are logged but never reach OnException.
func (h *Handler) Fail(err error) {
	if err == nil {
		return
	}
	defer func() {
		_ = h.conn.Flush()
		_ = h.conn.Close()
	}()

	kind := errorKind(err)
	observability.RecordError(kind)
	if kind != "handshake" {
		h.listener.OnException(h.conn, err)
	}
	h.conn.log.Error().Str("kind", kind).Err(err).Msg("handling exception")
}
