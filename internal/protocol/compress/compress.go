// Package compress implements the deflate container codec. Senders wrap
// message frames in a zlib stream (deflate with the zlib header, the
// format java.util.zip.Deflater and libbeat both emit).
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/danmuck/beatsd/internal/protocol"
)

const initialInflateBuf = 32 * 1024

var ErrCorrupt = errors.New("compress: corrupt zlib stream")

// Compress deflates p at the default compression level.
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates p. Output larger than max fails with
// protocol.ErrInflateLimit and the buffer never grows past max+1 bytes.
func Decompress(p []byte, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, fmt.Errorf("compress: invalid inflate limit %d", max)
	}
	r, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()

	limit := max + 1
	out := make([]byte, 0, min(int64(initialInflateBuf), limit))
	for {
		if int64(len(out)) == int64(cap(out)) {
			if int64(cap(out)) >= limit {
				return nil, fmt.Errorf("%w: more than %d bytes", protocol.ErrInflateLimit, max)
			}
			grown := make([]byte, len(out), min(int64(cap(out))*2, limit))
			copy(grown, out)
			out = grown
		}
		n, err := r.Read(out[len(out):cap(out)])
		out = out[:len(out)+n]
		if int64(len(out)) > max {
			return nil, fmt.Errorf("%w: more than %d bytes", protocol.ErrInflateLimit, max)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
}
