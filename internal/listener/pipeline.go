package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/protocol/batch"
)

var (
	ErrQueueFull      = errors.New("listener: queue full")
	ErrPipelineClosed = errors.New("listener: pipeline closed")
)

// PipelineConfig bounds the queue between connections and sink workers.
type PipelineConfig struct {
	QueueSize int
	Workers   int
	// EnqueueTimeout is how long OnNewMessage waits for queue space before
	// failing the connection. Zero waits until the connection closes.
	EnqueueTimeout time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueSize:      4096,
		Workers:        4,
		EnqueueTimeout: 30 * time.Second,
	}
}

// Pipeline hands events to a fixed worker pool through a bounded queue.
// A full queue blocks the delivering connection, which keeps its batch
// unacked and its keep-alive flag set until space frees up.
type Pipeline struct {
	lifecycle
	cfg  PipelineConfig
	sink Sink

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewPipeline starts cfg.Workers goroutines writing to sink.
func NewPipeline(cfg PipelineConfig, sink Sink) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	p := &Pipeline{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.QueueSize),
	}
	for range cfg.Workers {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pipeline) work() {
	defer p.wg.Done()
	for ev := range p.queue {
		if err := p.sink.Write(context.Background(), ev); err != nil {
			log.Error().Err(err).Str("conn_id", ev.ConnID).Uint32("sequence", ev.Sequence).Msg("sink write failed")
		}
	}
}

func (p *Pipeline) OnNewMessage(c *beats.Conn, m *batch.Message) error {
	ev, err := NewEvent(c, m)
	if err != nil {
		return err
	}
	return p.Enqueue(c.Context(), ev)
}

// Enqueue waits for queue space, the enqueue timeout, or ctx.
func (p *Pipeline) Enqueue(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}

	select {
	case p.queue <- ev:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if p.cfg.EnqueueTimeout > 0 {
		timer := time.NewTimer(p.cfg.EnqueueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case p.queue <- ev:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: waited %s", ErrQueueFull, p.cfg.EnqueueTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len is the number of queued events.
func (p *Pipeline) Len() int {
	return len(p.queue)
}

// Close stops accepting events and waits until queued events are written.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
