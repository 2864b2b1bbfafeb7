package protocol

import "fmt"

// Version is the first byte of every frame.
type Version byte

const (
	Version1 Version = '1'
	Version2 Version = '2'
)

// Code is the second byte of every frame.
type Code byte

const (
	CodeWindowSize      Code = 'W'
	CodeJSONFrame       Code = 'J'
	CodeCompressedFrame Code = 'C'
	CodeDataFrame       Code = 'D'
	CodeAck             Code = 'A'
)

// ParseVersion validates a raw version byte.
func ParseVersion(b byte) (Version, error) {
	v := Version(b)
	if !v.Valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, b)
	}
	return v, nil
}

func (v Version) Valid() bool {
	return v == Version1 || v == Version2
}

func (v Version) String() string {
	switch v {
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(v))
	}
}

// Allows reports whether code is legal under v.
// JSON frames are version 2 only and field frames version 1 only.
func (v Version) Allows(code Code) bool {
	switch code {
	case CodeWindowSize, CodeCompressedFrame, CodeAck:
		return v.Valid()
	case CodeJSONFrame:
		return v == Version2
	case CodeDataFrame:
		return v == Version1
	default:
		return false
	}
}

func (c Code) String() string {
	switch c {
	case CodeWindowSize:
		return "window_size"
	case CodeJSONFrame:
		return "json"
	case CodeCompressedFrame:
		return "compressed"
	case CodeDataFrame:
		return "data"
	case CodeAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(c))
	}
}
