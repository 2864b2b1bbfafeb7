package batch

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrPayloadDecode wraps a JSON payload that could not be decoded.
var ErrPayloadDecode = errors.New("batch: unable to parse beats payload")

type payloadState uint8

const (
	payloadRaw payloadState = iota
	payloadDecoded
	payloadFailed
)

func (s payloadState) String() string {
	switch s {
	case payloadRaw:
		return "raw"
	case payloadDecoded:
		return "decoded"
	default:
		return "failed"
	}
}

// Message is one decoded event. Its sequence is fixed at decode time.
// A version 2 message holds raw JSON until the first Payload call.
type Message struct {
	sequence uint32
	batch    *Batch

	mu    sync.Mutex
	state payloadState
	raw   []byte
	data  map[string]any
	err   error
}

// NewJSONMessage wraps undecoded JSON bytes. raw must not be modified afterwards.
func NewJSONMessage(sequence uint32, raw []byte) *Message {
	return &Message{sequence: sequence, state: payloadRaw, raw: raw}
}

// NewFieldMessage builds an already-decoded message from version 1 fields.
func NewFieldMessage(sequence uint32, fields map[string]string) *Message {
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		data[k] = v
	}
	return NewMapMessage(sequence, data)
}

// NewMapMessage builds an already-decoded message.
func NewMapMessage(sequence uint32, data map[string]any) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{sequence: sequence, state: payloadDecoded, data: data}
}

func (m *Message) Sequence() uint32 {
	return m.sequence
}

// Batch returns the owning batch, nil until the message is added to one.
func (m *Message) Batch() *Batch {
	return m.batch
}

// Payload returns the structured payload, decoding raw JSON on first use.
// The transition runs at most once; later calls return the cached map or
// the cached decode error.
func (m *Message) Payload() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureDecoded(); err != nil {
		return nil, err
	}
	return m.data, nil
}

// Raw returns the undecoded JSON while the payload has not been decoded yet.
func (m *Message) Raw() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != payloadRaw {
		return nil, false
	}
	return m.raw, true
}

// Decoded reports whether the payload already left the raw state successfully.
func (m *Message) Decoded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == payloadDecoded
}

// caller holds m.mu
func (m *Message) ensureDecoded() error {
	switch m.state {
	case payloadDecoded:
		return nil
	case payloadFailed:
		return m.err
	}

	data, err := decodeObject(m.raw)
	m.raw = nil
	if err != nil {
		m.state = payloadFailed
		m.err = fmt.Errorf("%w: sequence %d: %v", ErrPayloadDecode, m.sequence, err)
		return m.err
	}
	m.state = payloadDecoded
	m.data = data
	return nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("payload is not a json object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after json object")
	}
	return data, nil
}

// IdentityStream names the stream a beat event belongs to: beat.id and
// beat.resource_id when both exist, otherwise beat.name and beat.source.
// It returns "" when the payload has no beat object or cannot be decoded.
func (m *Message) IdentityStream() string {
	data, err := m.Payload()
	if err != nil {
		return ""
	}
	beat, ok := data["beat"].(map[string]any)
	if !ok {
		return ""
	}
	id, hasID := beat["id"].(string)
	resourceID, hasResource := beat["resource_id"].(string)
	if hasID && hasResource {
		return id + "-" + resourceID
	}
	return fmt.Sprint(stringOrNull(beat["name"]), "-", stringOrNull(beat["source"]))
}

func stringOrNull(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

// Compare orders messages by sequence number, for slices.SortFunc.
func Compare(a, b *Message) int {
	return cmp.Compare(a.sequence, b.sequence)
}
