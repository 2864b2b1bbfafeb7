package frame

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/danmuck/beatsd/internal/protocol"
)

// EncodeAck serializes an ack: version, 'A', big-endian sequence.
func EncodeAck(version protocol.Version, sequence uint32) []byte {
	return AppendAck(make([]byte, 0, AckLen), version, sequence)
}

func AppendAck(dst []byte, version protocol.Version, sequence uint32) []byte {
	dst = append(dst, byte(version), byte(protocol.CodeAck))
	return binary.BigEndian.AppendUint32(dst, sequence)
}

func AppendWindowSize(dst []byte, version protocol.Version, size uint32) []byte {
	dst = append(dst, byte(version), byte(protocol.CodeWindowSize))
	return binary.BigEndian.AppendUint32(dst, size)
}

func AppendJSON(dst []byte, sequence uint32, payload []byte) []byte {
	dst = append(dst, byte(protocol.Version2), byte(protocol.CodeJSONFrame))
	dst = binary.BigEndian.AppendUint32(dst, sequence)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendFields writes keys in sorted order so output is deterministic.
func AppendFields(dst []byte, sequence uint32, fields map[string]string) []byte {
	dst = append(dst, byte(protocol.Version1), byte(protocol.CodeDataFrame))
	dst = binary.BigEndian.AppendUint32(dst, sequence)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(fields)))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		dst = appendString(dst, k)
		dst = appendString(dst, fields[k])
	}
	return dst
}

func AppendCompressed(dst []byte, version protocol.Version, payload []byte) []byte {
	dst = append(dst, byte(version), byte(protocol.CodeCompressedFrame))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Append encodes any frame value.
func Append(dst []byte, f Frame) ([]byte, error) {
	switch v := f.(type) {
	case WindowSize:
		return AppendWindowSize(dst, v.Version, v.Size), nil
	case JSONMessage:
		return AppendJSON(dst, v.Sequence, v.Payload), nil
	case FieldMessage:
		return AppendFields(dst, v.Sequence, v.Fields), nil
	case Compressed:
		return AppendCompressed(dst, v.Version, v.Payload), nil
	case Ack:
		return AppendAck(dst, v.Version, v.Sequence), nil
	default:
		return dst, fmt.Errorf("frame: cannot encode %T", f)
	}
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}
