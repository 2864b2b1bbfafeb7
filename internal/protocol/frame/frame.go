package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/beatsd/internal/protocol"
)

const (
	HeaderLen = 2
	AckLen    = HeaderLen + 4

	// smallest encoded field: two empty length-prefixed strings
	minFieldLen = 8
)

// ErrIncomplete means b holds a prefix of a frame. Nothing was consumed.
var ErrIncomplete = errors.New("frame: incomplete")

// Header is the two-byte prefix shared by every frame.
type Header struct {
	Version protocol.Version
	Code    protocol.Code
}

// Frame is one of WindowSize, JSONMessage, FieldMessage, Compressed or Ack.
type Frame interface {
	FrameHeader() Header
}

// WindowSize opens a batch of Size messages.
type WindowSize struct {
	Version protocol.Version
	Size    uint32
}

// JSONMessage carries one undecoded JSON object (version 2).
type JSONMessage struct {
	Sequence uint32
	Payload  []byte
}

// FieldMessage carries one key/value event (version 1).
type FieldMessage struct {
	Sequence uint32
	Fields   map[string]string
}

// Compressed carries a zlib stream that inflates to further frames.
type Compressed struct {
	Version protocol.Version
	Payload []byte
}

// Ack acknowledges every message up to Sequence. Sequence 0 is a keep-alive.
type Ack struct {
	Version  protocol.Version
	Sequence uint32
}

func (f WindowSize) FrameHeader() Header {
	return Header{Version: f.Version, Code: protocol.CodeWindowSize}
}

func (f JSONMessage) FrameHeader() Header {
	return Header{Version: protocol.Version2, Code: protocol.CodeJSONFrame}
}

func (f FieldMessage) FrameHeader() Header {
	return Header{Version: protocol.Version1, Code: protocol.CodeDataFrame}
}

func (f Compressed) FrameHeader() Header {
	return Header{Version: f.Version, Code: protocol.CodeCompressedFrame}
}

func (f Ack) FrameHeader() Header {
	return Header{Version: f.Version, Code: protocol.CodeAck}
}

// Parse decodes the frame at the start of b and returns it with the number
// of bytes it occupies. When b is a strict prefix of a valid frame Parse
// returns ErrIncomplete and consumes nothing, so callers retry once more
// bytes arrive. Payload bytes are copied out of b.
func Parse(b []byte, limits protocol.Limits) (Frame, int, error) {
	if len(b) < HeaderLen {
		return nil, 0, ErrIncomplete
	}
	version, err := protocol.ParseVersion(b[0])
	if err != nil {
		return nil, 0, err
	}
	code := protocol.Code(b[1])
	switch code {
	case protocol.CodeWindowSize, protocol.CodeJSONFrame, protocol.CodeDataFrame,
		protocol.CodeCompressedFrame, protocol.CodeAck:
	default:
		return nil, 0, fmt.Errorf("%w: %s", protocol.ErrUnknownFrameType, code)
	}
	if !version.Allows(code) {
		return nil, 0, fmt.Errorf("%w: %s under %s", protocol.ErrVersionFrameType, code, version)
	}

	r := reader{buf: b, off: HeaderLen, max: limits.MaxFrameBytes}
	var f Frame
	switch code {
	case protocol.CodeWindowSize:
		f, err = r.windowSize(version)
	case protocol.CodeJSONFrame:
		f, err = r.jsonMessage()
	case protocol.CodeDataFrame:
		f, err = r.fieldMessage()
	case protocol.CodeCompressedFrame:
		f, err = r.compressed(version)
	case protocol.CodeAck:
		f, err = r.ack(version)
	}
	if err != nil {
		return nil, 0, err
	}
	return f, r.off, nil
}

type reader struct {
	buf []byte
	off int
	max uint32
}

func (r *reader) u32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, ErrIncomplete
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

// length reads a length prefix and rejects it before any allocation when
// it exceeds the configured frame bound.
func (r *reader) length(what string) (uint32, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if r.max > 0 && n > r.max {
		return 0, fmt.Errorf("%w: %s length %d > %d", protocol.ErrFrameTooLarge, what, n, r.max)
	}
	return n, nil
}

func (r *reader) view(n uint32) ([]byte, error) {
	if uint64(len(r.buf)-r.off) < uint64(n) {
		return nil, ErrIncomplete
	}
	out := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

func (r *reader) windowSize(version protocol.Version) (Frame, error) {
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	return WindowSize{Version: version, Size: size}, nil
}

func (r *reader) jsonMessage() (Frame, error) {
	seq, err := r.u32()
	if err != nil {
		return nil, err
	}
	n, err := r.length("json")
	if err != nil {
		return nil, err
	}
	payload, err := r.view(n)
	if err != nil {
		return nil, err
	}
	return JSONMessage{Sequence: seq, Payload: slices.Clone(payload)}, nil
}

func (r *reader) fieldMessage() (Frame, error) {
	start := r.off
	seq, err := r.u32()
	if err != nil {
		return nil, err
	}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.max > 0 && uint64(count)*minFieldLen > uint64(r.max) {
		return nil, fmt.Errorf("%w: %d fields", protocol.ErrFrameTooLarge, count)
	}
	fields := make(map[string]string, min(count, 64))
	for i := uint32(0); i < count; i++ {
		key, err := r.string("key")
		if err != nil {
			return nil, err
		}
		val, err := r.string("value")
		if err != nil {
			return nil, err
		}
		if r.max > 0 && uint64(r.off-start) > uint64(r.max) {
			return nil, fmt.Errorf("%w: field frame exceeds %d bytes", protocol.ErrFrameTooLarge, r.max)
		}
		fields[key] = val
	}
	return FieldMessage{Sequence: seq, Fields: fields}, nil
}

func (r *reader) string(what string) (string, error) {
	n, err := r.length(what)
	if err != nil {
		return "", err
	}
	b, err := r.view(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) compressed(version protocol.Version) (Frame, error) {
	n, err := r.length("compressed")
	if err != nil {
		return nil, err
	}
	payload, err := r.view(n)
	if err != nil {
		return nil, err
	}
	return Compressed{Version: version, Payload: slices.Clone(payload)}, nil
}

func (r *reader) ack(version protocol.Version) (Frame, error) {
	seq, err := r.u32()
	if err != nil {
		return nil, err
	}
	return Ack{Version: version, Sequence: seq}, nil
}
