package stream

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/protocol/compress"
	"github.com/danmuck/beatsd/internal/protocol/frame"
)

// EncodeBatch writes a window-size frame for b.Len() messages followed by
// one frame per message in insertion order: JSON frames for version 2,
// field frames for version 1. With compressed set the message frames are
// wrapped in a single compressed container.
func EncodeBatch(b *batch.Batch, compressed bool) ([]byte, error) {
	out := frame.AppendWindowSize(nil, b.Protocol(), uint32(b.Len()))

	var payload []byte
	for m := range b.All() {
		var err error
		payload, err = appendMessage(payload, b.Protocol(), m)
		if err != nil {
			return nil, err
		}
	}
	if !compressed {
		return append(out, payload...), nil
	}

	packed, err := compress.Compress(payload)
	if err != nil {
		return nil, err
	}
	return frame.AppendCompressed(out, b.Protocol(), packed), nil
}

func appendMessage(dst []byte, version protocol.Version, m *batch.Message) ([]byte, error) {
	if version == protocol.Version2 {
		if raw, ok := m.Raw(); ok {
			return frame.AppendJSON(dst, m.Sequence(), raw), nil
		}
		data, err := m.Payload()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("stream: encode sequence %d: %w", m.Sequence(), err)
		}
		return frame.AppendJSON(dst, m.Sequence(), raw), nil
	}

	data, err := m.Payload()
	if err != nil {
		return nil, err
	}
	fields, err := Flatten(data)
	if err != nil {
		return nil, fmt.Errorf("stream: encode sequence %d: %w", m.Sequence(), err)
	}
	return frame.AppendFields(dst, m.Sequence(), fields), nil
}

// Flatten converts a payload into version 1 fields. Strings pass through;
// every other value is JSON encoded.
func Flatten(data map[string]any) (map[string]string, error) {
	fields := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = string(raw)
	}
	return fields, nil
}
