package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Sink stores or forwards events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Write(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// JSONLines writes one JSON object per event.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{enc: enc}
}

func (s *JSONLines) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("listener: write json line: %w", err)
	}
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Write(context.Context, Event) error { return nil }
