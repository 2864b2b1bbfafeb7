package batch

import (
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/beatsd/internal/protocol"
)

func TestBatchHighestSequenceOutOfOrder(t *testing.T) {
	b, err := New(protocol.Version2, 4)
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	for _, seq := range []uint32{3, 9, 1, 4} {
		if err := b.Add(NewJSONMessage(seq, []byte(`{}`))); err != nil {
			t.Fatalf("add %d: %v", seq, err)
		}
	}
	if got := b.HighestSequence(); got != 9 {
		t.Fatalf("highest sequence: got=%d want=9", got)
	}
	if !b.Complete() {
		t.Fatalf("expected complete batch")
	}
}

func TestBatchIteratesInInsertionOrder(t *testing.T) {
	b, err := New(protocol.Version1, 3)
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	for _, seq := range []uint32{5, 2, 8} {
		if err := b.Add(NewFieldMessage(seq, map[string]string{"n": "x"})); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	var got []uint32
	for m := range b.All() {
		got = append(got, m.Sequence())
		if m.Batch() != b {
			t.Fatalf("message %d lost its batch reference", m.Sequence())
		}
	}
	if !slices.Equal(got, []uint32{5, 2, 8}) {
		t.Fatalf("iteration order: %v", got)
	}
}

func TestBatchRejectsOverflowAndReuse(t *testing.T) {
	b, err := New(protocol.Version2, 1)
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	m := NewJSONMessage(1, []byte(`{}`))
	if err := b.Add(m); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Add(NewJSONMessage(2, []byte(`{}`))); !errors.Is(err, ErrBatchFull) {
		t.Fatalf("expected ErrBatchFull, got %v", err)
	}

	other, _ := New(protocol.Version2, 1)
	if err := other.Add(m); !errors.Is(err, ErrMessageOwned) {
		t.Fatalf("expected ErrMessageOwned, got %v", err)
	}

	b.Release()
	if !b.Released() || b.Len() != 0 {
		t.Fatalf("expected released empty batch, len=%d", b.Len())
	}
	if err := b.Add(NewJSONMessage(3, []byte(`{}`))); !errors.Is(err, ErrBatchReleased) {
		t.Fatalf("expected ErrBatchReleased, got %v", err)
	}
}

func TestNewBatchValidation(t *testing.T) {
	if _, err := New(protocol.Version2, 0); !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
	if _, err := New(protocol.Version('9'), 1); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestCompareSortsBySequence(t *testing.T) {
	msgs := []*Message{
		NewMapMessage(30, nil),
		NewMapMessage(10, nil),
		NewMapMessage(20, nil),
	}
	slices.SortFunc(msgs, Compare)
	for i, want := range []uint32{10, 20, 30} {
		if msgs[i].Sequence() != want {
			t.Fatalf("index %d: got=%d want=%d", i, msgs[i].Sequence(), want)
		}
	}
}
