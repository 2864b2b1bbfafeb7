package beats

import (
	"sync"

	"github.com/danmuck/beatsd/internal/protocol/batch"
)

type recordingListener struct {
	mu         sync.Mutex
	connected  int
	closed     int
	sequences  []uint32
	payloads   []map[string]any
	keepAlive  []bool
	exceptions []error
	initErrs   []error

	// optional hooks
	deliver func(c *Conn, m *batch.Message) error

	closedCh chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{closedCh: make(chan struct{}, 16)}
}

func (l *recordingListener) OnNewConnection(*Conn) {
	l.mu.Lock()
	l.connected++
	l.mu.Unlock()
}

func (l *recordingListener) OnNewMessage(c *Conn, m *batch.Message) error {
	if l.deliver != nil {
		if err := l.deliver(c, m); err != nil {
			return err
		}
	}
	payload, err := m.Payload()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sequences = append(l.sequences, m.Sequence())
	l.payloads = append(l.payloads, payload)
	l.keepAlive = append(l.keepAlive, c.KeepAlive())
	return nil
}

func (l *recordingListener) OnConnectionClose(*Conn) {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
	l.closedCh <- struct{}{}
}

func (l *recordingListener) OnException(_ *Conn, err error) {
	l.mu.Lock()
	l.exceptions = append(l.exceptions, err)
	l.mu.Unlock()
}

func (l *recordingListener) OnChannelInitializeException(_ *Conn, err error) {
	l.mu.Lock()
	l.initErrs = append(l.initErrs, err)
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() (seqs []uint32, exceptions []error, connected, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint32(nil), l.sequences...), append([]error(nil), l.exceptions...), l.connected, l.closed
}
