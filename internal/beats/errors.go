package beats

import (
	"crypto/tls"
	"crypto/x509"
	"errors"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/protocol/compress"
)

var (
	ErrHandshake      = errors.New("beats: tls handshake failed")
	ErrDecode         = errors.New("beats: decode stream")
	ErrDelivery       = errors.New("beats: listener rejected message")
	ErrClientInactive = errors.New("beats: client inactive")
	ErrConnClosed     = errors.New("beats: connection closed")
)

// IsHandshakeError reports whether err came from TLS session setup.
// Such errors close the connection without reaching Listener.OnException.
func IsHandshakeError(err error) bool {
	if errors.Is(err, ErrHandshake) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	return errors.As(err, &unknownAuth)
}

// errorKind labels a fatal connection error for metrics.
func errorKind(err error) string {
	switch {
	case IsHandshakeError(err):
		return "handshake"
	case errors.Is(err, protocol.ErrInflateLimit), errors.Is(err, compress.ErrCorrupt):
		return "inflate"
	case errors.Is(err, batch.ErrPayloadDecode):
		return "payload"
	case errors.Is(err, ErrDelivery):
		return "listener"
	case errors.Is(err, ErrDecode):
		return "framing"
	case errors.Is(err, ErrClientInactive):
		return "inactive"
	default:
		return "io"
	}
}
