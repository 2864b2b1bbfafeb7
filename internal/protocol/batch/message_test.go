package batch

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPayloadDecodesOnceAndCaches(t *testing.T) {
	m := NewJSONMessage(1, []byte(`{"a":"b","n":42}`))
	if m.Decoded() {
		t.Fatalf("expected raw state before first access")
	}
	if raw, ok := m.Raw(); !ok || string(raw) != `{"a":"b","n":42}` {
		t.Fatalf("unexpected raw view: %q ok=%v", raw, ok)
	}

	first, err := m.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if first["a"] != "b" {
		t.Fatalf("unexpected payload: %+v", first)
	}
	if n, ok := first["n"].(json.Number); !ok || n.String() != "42" {
		t.Fatalf("expected json.Number 42, got %#v", first["n"])
	}
	if !m.Decoded() {
		t.Fatalf("expected decoded state")
	}
	if _, ok := m.Raw(); ok {
		t.Fatalf("raw bytes should be dropped after decode")
	}

	first["mutated"] = true
	second, err := m.Payload()
	if err != nil {
		t.Fatalf("payload (second): %v", err)
	}
	if second["mutated"] != true {
		t.Fatalf("expected the memoized map on the second call")
	}
}

func TestPayloadDecodeFailureIsSticky(t *testing.T) {
	cases := map[string]string{
		"malformed": `{"a":`,
		"array":     `[1,2]`,
		"null":      `null`,
		"trailing":  `{"a":"b"} {"c":"d"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewJSONMessage(7, []byte(raw))
			_, err := m.Payload()
			if !errors.Is(err, ErrPayloadDecode) {
				t.Fatalf("expected ErrPayloadDecode, got %v", err)
			}
			_, again := m.Payload()
			if again != err {
				t.Fatalf("expected the same cached error, got %v", again)
			}
			if m.IdentityStream() != "" {
				t.Fatalf("expected empty identity stream for undecodable payload")
			}
		})
	}
}

func TestFieldMessageIsEagerlyDecoded(t *testing.T) {
	m := NewFieldMessage(1, map[string]string{"message": "hello"})
	if !m.Decoded() {
		t.Fatalf("expected decoded field message")
	}
	data, err := m.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(data) != 1 || data["message"] != "hello" {
		t.Fatalf("unexpected payload: %+v", data)
	}
}

func TestIdentityStream(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"id and resource", `{"beat":{"id":"abc","resource_id":"r1","name":"n","source":"s"}}`, "abc-r1"},
		{"name and source", `{"beat":{"name":"filebeat","source":"/var/log/syslog"}}`, "filebeat-/var/log/syslog"},
		{"id only", `{"beat":{"id":"abc","name":"filebeat"}}`, "filebeat-null"},
		{"no beat", `{"message":"hi"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewJSONMessage(1, []byte(tc.raw))
			if got := m.IdentityStream(); got != tc.want {
				t.Fatalf("identity stream: got=%q want=%q", got, tc.want)
			}
		})
	}
}
