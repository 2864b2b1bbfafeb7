// Package stream turns a connection's byte stream into complete batches
// and builds the sender-side byte stream for a batch.
package stream

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/protocol/compress"
	"github.com/danmuck/beatsd/internal/protocol/frame"
)

// buffers above this size are dropped instead of reused once drained
const maxRetainedBuf = 1 << 20

// Stats counts decoder work since construction.
type Stats struct {
	Frames           uint64
	Messages         uint64
	Batches          uint64
	CompressedFrames uint64
	CompressedBytes  uint64
	InflatedBytes    uint64
}

// Decoder is a resumable frame decoder for one connection. Feed never
// blocks: bytes that do not yet form a whole frame stay buffered until the
// next call. Completed batches queue in arrival order until Next drains
// them. A Decoder is not safe for concurrent use.
type Decoder struct {
	limits protocol.Limits
	buf    []byte
	open   *batch.Batch
	ready  *queue.Queue
	stats  Stats
	err    error
}

func NewDecoder(limits protocol.Limits) *Decoder {
	return &Decoder{
		limits: limits.WithDefaults(),
		ready:  queue.New(),
	}
}

// Feed appends p and decodes every whole frame now available. The first
// error is sticky: the connection must be closed.
func (d *Decoder) Feed(p []byte) error {
	if d.err != nil {
		return d.err
	}
	d.buf = append(d.buf, p...)

	off := 0
	for off < len(d.buf) {
		f, n, err := frame.Parse(d.buf[off:], d.limits)
		if errors.Is(err, frame.ErrIncomplete) {
			break
		}
		if err != nil {
			return d.fail(err)
		}
		off += n
		if err := d.apply(f, false); err != nil {
			return d.fail(err)
		}
	}

	rest := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:rest]
	if rest == 0 && cap(d.buf) > maxRetainedBuf {
		d.buf = nil
	}
	return nil
}

// Next pops the oldest completed batch.
func (d *Decoder) Next() (*batch.Batch, bool) {
	if d.ready.Length() == 0 {
		return nil, false
	}
	return d.ready.Remove().(*batch.Batch), true
}

// Ready is the number of completed batches waiting for Next.
func (d *Decoder) Ready() int {
	return d.ready.Length()
}

// Open returns the batch still waiting for messages, if any.
func (d *Decoder) Open() (*batch.Batch, bool) {
	return d.open, d.open != nil
}

// Buffered is the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	if d.open != nil {
		d.open.Release()
		d.open = nil
	}
	return err
}

func (d *Decoder) apply(f frame.Frame, nested bool) error {
	d.stats.Frames++
	switch v := f.(type) {
	case frame.WindowSize:
		return d.openBatch(v)
	case frame.JSONMessage:
		return d.add(protocol.Version2, batch.NewJSONMessage(v.Sequence, v.Payload))
	case frame.FieldMessage:
		return d.add(protocol.Version1, batch.NewFieldMessage(v.Sequence, v.Fields))
	case frame.Compressed:
		if nested {
			return protocol.ErrNestedCompression
		}
		return d.inflate(v)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnexpectedFrame, f.FrameHeader().Code)
	}
}

func (d *Decoder) openBatch(w frame.WindowSize) error {
	if d.open != nil {
		return fmt.Errorf("%w: %d of %d messages received", protocol.ErrBatchInProgress, d.open.Len(), d.open.Size())
	}
	if w.Size == 0 || w.Size > d.limits.MaxWindowSize {
		return fmt.Errorf("%w: %d (max %d)", protocol.ErrInvalidWindowSize, w.Size, d.limits.MaxWindowSize)
	}
	b, err := batch.New(w.Version, w.Size)
	if err != nil {
		return err
	}
	d.open = b
	return nil
}

func (d *Decoder) add(version protocol.Version, m *batch.Message) error {
	if d.open == nil {
		return fmt.Errorf("%w: sequence %d", protocol.ErrNoOpenBatch, m.Sequence())
	}
	if d.open.Protocol() != version {
		return fmt.Errorf("%w: batch %s, message %s", protocol.ErrVersionMismatch, d.open.Protocol(), version)
	}
	if err := d.open.Add(m); err != nil {
		return err
	}
	d.stats.Messages++
	if d.open.Complete() {
		d.ready.Add(d.open)
		d.open = nil
		d.stats.Batches++
	}
	return nil
}

// inflate decodes a compressed container as its own frame stream. The
// container must hold whole frames and may not nest another container.
func (d *Decoder) inflate(c frame.Compressed) error {
	if d.open != nil && d.open.Protocol() != c.Version {
		return fmt.Errorf("%w: batch %s, container %s", protocol.ErrVersionMismatch, d.open.Protocol(), c.Version)
	}
	inner, err := compress.Decompress(c.Payload, d.limits.MaxInflateBytes)
	if err != nil {
		return err
	}
	d.stats.CompressedFrames++
	d.stats.CompressedBytes += uint64(len(c.Payload))
	d.stats.InflatedBytes += uint64(len(inner))

	for off := 0; off < len(inner); {
		f, n, err := frame.Parse(inner[off:], d.limits)
		if errors.Is(err, frame.ErrIncomplete) {
			return fmt.Errorf("%w: %d trailing bytes", protocol.ErrTruncatedContainer, len(inner)-off)
		}
		if err != nil {
			return err
		}
		off += n
		if err := d.apply(f, true); err != nil {
			return err
		}
	}
	return nil
}
