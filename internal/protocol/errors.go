package protocol

import "errors"

// Every error below is fatal to the connection that produced it.
var (
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownFrameType   = errors.New("protocol: unknown frame type")
	ErrUnexpectedFrame    = errors.New("protocol: unexpected frame")
	ErrVersionFrameType   = errors.New("protocol: frame type not allowed for version")
	ErrFrameTooLarge      = errors.New("protocol: frame too large")
	ErrInvalidWindowSize  = errors.New("protocol: invalid window size")
	ErrBatchInProgress    = errors.New("protocol: window size received while batch is open")
	ErrNoOpenBatch        = errors.New("protocol: message received without window size")
	ErrVersionMismatch    = errors.New("protocol: message version differs from batch version")
	ErrNestedCompression  = errors.New("protocol: compressed frame inside compressed frame")
	ErrTruncatedContainer = errors.New("protocol: truncated frame in compressed container")
	ErrInflateLimit       = errors.New("protocol: inflated payload exceeds limit")
)
