// Package batch holds the message model: one Batch per window-size
// declaration, filled with Messages in arrival order.
package batch

import (
	"errors"
	"fmt"
	"iter"

	"github.com/danmuck/beatsd/internal/protocol"
)

var (
	ErrBatchFull        = errors.New("batch: already at declared size")
	ErrMessageOwned     = errors.New("batch: message already belongs to a batch")
	ErrBatchReleased    = errors.New("batch: released")
	ErrInvalidBatchSize = errors.New("batch: declared size must be positive")
)

// Batch is the ordered set of messages covered by one window size.
// It is owned by a single connection and is not safe for concurrent mutation.
type Batch struct {
	version  protocol.Version
	size     uint32
	messages []*Message
	highest  uint32
	released bool
}

func New(version protocol.Version, size uint32) (*Batch, error) {
	if !version.Valid() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedVersion, version)
	}
	if size == 0 {
		return nil, ErrInvalidBatchSize
	}
	return &Batch{
		version:  version,
		size:     size,
		messages: make([]*Message, 0, min(size, 1024)),
	}, nil
}

// Add appends m in arrival order and tracks the highest sequence.
func (b *Batch) Add(m *Message) error {
	if b.released {
		return ErrBatchReleased
	}
	if uint32(len(b.messages)) >= b.size {
		return fmt.Errorf("%w: %d", ErrBatchFull, b.size)
	}
	if m.batch != nil {
		return ErrMessageOwned
	}
	m.batch = b
	if len(b.messages) == 0 || m.sequence > b.highest {
		b.highest = m.sequence
	}
	b.messages = append(b.messages, m)
	return nil
}

func (b *Batch) Protocol() protocol.Version {
	return b.version
}

// Size is the declared window size.
func (b *Batch) Size() uint32 {
	return b.size
}

// Len is the number of messages added so far.
func (b *Batch) Len() int {
	return len(b.messages)
}

func (b *Batch) IsEmpty() bool {
	return len(b.messages) == 0
}

// Complete reports whether the batch holds its declared number of messages.
func (b *Batch) Complete() bool {
	return uint32(len(b.messages)) == b.size
}

// HighestSequence is the maximum sequence among added messages.
func (b *Batch) HighestSequence() uint32 {
	return b.highest
}

// All iterates messages in insertion order.
func (b *Batch) All() iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		for _, m := range b.messages {
			if !yield(m) {
				return
			}
		}
	}
}

// Release drops the batch's references to its messages. Messages already
// handed downstream stay valid.
func (b *Batch) Release() {
	b.messages = nil
	b.released = true
}

func (b *Batch) Released() bool {
	return b.released
}
