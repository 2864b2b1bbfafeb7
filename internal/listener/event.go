package listener

import (
	"time"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/protocol/batch"
)

// Event is one delivered message plus the connection it arrived on.
type Event struct {
	ConnID     string         `json:"conn_id"`
	Remote     string         `json:"remote"`
	Protocol   string         `json:"protocol"`
	Sequence   uint32         `json:"sequence"`
	Identity   string         `json:"identity_stream,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Fields     map[string]any `json:"fields"`
}

// NewEvent decodes m's payload. The returned error wraps batch.ErrPayloadDecode.
func NewEvent(c *beats.Conn, m *batch.Message) (Event, error) {
	fields, err := m.Payload()
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		ConnID:     c.ID(),
		Sequence:   m.Sequence(),
		Identity:   m.IdentityStream(),
		ReceivedAt: time.Now().UTC(),
		Fields:     fields,
	}
	if addr := c.RemoteAddr(); addr != nil {
		ev.Remote = addr.String()
	}
	if b := m.Batch(); b != nil {
		ev.Protocol = b.Protocol().String()
	}
	return ev, nil
}
