package beats

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/testutil/testlog"
)

// pipeConn returns a server-side Conn and a channel carrying every byte
// the peer side reads until the pipe closes.
func pipeConn(t *testing.T) (*Conn, <-chan []byte) {
	t.Helper()
	server, client := net.Pipe()
	conn := NewConn(context.Background(), server, time.Second)
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 64)
		for {
			n, err := client.Read(buf)
			if n > 0 {
				out <- bytes.Clone(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		_ = conn.Close()
		_ = client.Close()
	})
	return conn, out
}

func newTestBatch(t *testing.T, version protocol.Version, seqs ...uint32) *batch.Batch {
	t.Helper()
	b, err := batch.New(version, uint32(len(seqs)))
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	for _, seq := range seqs {
		if err := b.Add(batch.NewMapMessage(seq, map[string]any{"n": seq})); err != nil {
			t.Fatalf("add seq=%d: %v", seq, err)
		}
	}
	return b
}

func nextChunk(t *testing.T, out <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-out:
		if !ok {
			t.Fatalf("peer closed before expected bytes")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for bytes")
	}
	return nil
}

func TestHandleBatchAcksHighestSequenceOnce(t *testing.T) {
	testlog.Start(t)

	conn, out := pipeConn(t)
	l := newRecordingListener()
	h := NewHandler(conn, l)
	b := newTestBatch(t, protocol.Version2, 3, 7, 5)

	if err := h.HandleBatch(context.Background(), b); err != nil {
		t.Fatalf("handle batch: %v", err)
	}
	if got := nextChunk(t, out); !bytes.Equal(got, []byte{'2', 'A', 0, 0, 0, 7}) {
		t.Fatalf("unexpected ack bytes: %v", got)
	}

	seqs, _, _, _ := l.snapshot()
	if len(seqs) != 3 || seqs[0] != 3 || seqs[1] != 7 || seqs[2] != 5 {
		t.Fatalf("messages not delivered in insertion order: %v", seqs)
	}
	for i, ka := range l.keepAlive {
		if !ka {
			t.Fatalf("keep-alive flag not set while delivering message %d", i)
		}
	}
	if conn.KeepAlive() {
		t.Fatalf("keep-alive flag still set after dispatch")
	}
	if !b.Released() {
		t.Fatalf("batch not released after dispatch")
	}
	if h.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", h.State())
	}
	select {
	case extra := <-out:
		t.Fatalf("unexpected extra bytes: %v", extra)
	default:
	}
}

func TestHandleBatchV1AckUsesBatchVersion(t *testing.T) {
	testlog.Start(t)

	conn, out := pipeConn(t)
	h := NewHandler(conn, newRecordingListener())
	if err := h.HandleBatch(context.Background(), newTestBatch(t, protocol.Version1, 1)); err != nil {
		t.Fatalf("handle batch: %v", err)
	}
	if got := nextChunk(t, out); !bytes.Equal(got, []byte{'1', 'A', 0, 0, 0, 1}) {
		t.Fatalf("unexpected ack bytes: %v", got)
	}
}

func TestHandleBatchListenerErrorStopsDelivery(t *testing.T) {
	testlog.Start(t)

	conn, _ := pipeConn(t)
	l := newRecordingListener()
	boom := errors.New("pipeline full")
	l.deliver = func(_ *Conn, m *batch.Message) error {
		if m.Sequence() == 2 {
			return boom
		}
		return nil
	}
	h := NewHandler(conn, l)
	b := newTestBatch(t, protocol.Version2, 1, 2, 3)

	err := h.HandleBatch(context.Background(), b)
	if !errors.Is(err, ErrDelivery) || !errors.Is(err, boom) {
		t.Fatalf("expected delivery error wrapping cause, got %v", err)
	}
	if seqs, _, _, _ := l.snapshot(); len(seqs) != 1 {
		t.Fatalf("expected delivery to stop after failure, got %v", seqs)
	}
	if conn.KeepAlive() || !b.Released() {
		t.Fatalf("cleanup skipped on error: keepalive=%v released=%v", conn.KeepAlive(), b.Released())
	}

	h.Fail(err)
	_, exceptions, _, _ := l.snapshot()
	if len(exceptions) != 1 || !errors.Is(exceptions[0], boom) {
		t.Fatalf("expected one exception, got %v", exceptions)
	}
	if !conn.Closed() {
		t.Fatalf("connection not closed after Fail")
	}
	if errorKind(err) != "listener" {
		t.Fatalf("unexpected error kind %q", errorKind(err))
	}
}

func TestHandleBatchPayloadDecodeError(t *testing.T) {
	testlog.Start(t)

	conn, _ := pipeConn(t)
	h := NewHandler(conn, newRecordingListener())
	b, err := batch.New(protocol.Version2, 1)
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	if err := b.Add(batch.NewJSONMessage(1, []byte(`{"a":`))); err != nil {
		t.Fatalf("add: %v", err)
	}

	err = h.HandleBatch(context.Background(), b)
	if !errors.Is(err, batch.ErrPayloadDecode) {
		t.Fatalf("expected payload decode error, got %v", err)
	}
	if errorKind(err) != "payload" {
		t.Fatalf("unexpected error kind %q", errorKind(err))
	}
}

func TestHandleBatchStopsWhenContextCanceled(t *testing.T) {
	testlog.Start(t)

	conn, _ := pipeConn(t)
	l := newRecordingListener()
	ctx, cancel := context.WithCancel(context.Background())
	l.deliver = func(*Conn, *batch.Message) error {
		cancel()
		return nil
	}
	h := NewHandler(conn, l)
	err := h.HandleBatch(ctx, newTestBatch(t, protocol.Version2, 1, 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if seqs, _, _, _ := l.snapshot(); len(seqs) != 1 {
		t.Fatalf("expected one delivered message, got %v", seqs)
	}
}

func TestFailSkipsListenerForHandshakeErrors(t *testing.T) {
	testlog.Start(t)

	conn, out := pipeConn(t)
	l := newRecordingListener()
	h := NewHandler(conn, l)

	h.Fail(errors.Join(ErrHandshake, io.ErrUnexpectedEOF))
	if _, exceptions, _, _ := l.snapshot(); len(exceptions) != 0 {
		t.Fatalf("handshake error reached listener: %v", exceptions)
	}
	if !conn.Closed() {
		t.Fatalf("connection not closed")
	}
	for range out {
	}
}

func TestFailFlushesPendingAckBeforeClose(t *testing.T) {
	testlog.Start(t)

	conn, out := pipeConn(t)
	l := newRecordingListener()
	h := NewHandler(conn, l)

	if err := conn.WriteAck(protocol.Version2, 9); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	h.Fail(ErrDecode)
	if got := nextChunk(t, out); !bytes.Equal(got, []byte{'2', 'A', 0, 0, 0, 9}) {
		t.Fatalf("pending ack not flushed: %v", got)
	}
	if _, exceptions, _, _ := l.snapshot(); len(exceptions) != 1 {
		t.Fatalf("expected one exception, got %v", exceptions)
	}
}
