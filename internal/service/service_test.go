package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/beatsd/internal/client"
	"github.com/danmuck/beatsd/internal/config"
	"github.com/danmuck/beatsd/internal/testutil/testlog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestServiceDeliversEventsToStdoutSink(t *testing.T) {
	testlog.Start(t)

	ln := listen(t)
	adminLn := listen(t)
	cfg := config.Default()
	cfg.AdminAddr = adminLn.Addr().String()
	out := &syncBuffer{}

	svc, err := NewService(cfg, out, "test")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln, adminLn)
	}()

	ccfg := client.DefaultConfig()
	ccfg.Address = ln.Addr().String()
	c, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()
	sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sendCancel()
	acked, err := c.Publish(sendCtx, []map[string]any{
		{"message": "first"},
		{"message": "second"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if acked != 2 {
		t.Fatalf("expected ack 2, got %d", acked)
	}

	resp, err := http.Get("http://" + adminLn.Addr().String() + "/connections")
	if err != nil {
		t.Fatalf("admin connections: %v", err)
	}
	var body struct {
		Count int `json:"count"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode connections: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("expected one open connection, got %d", body.Count)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 event lines, got %d: %q", len(lines), out.String())
	}
	for _, want := range []string{`"first"`, `"second"`} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("sink output missing %s: %q", want, out.String())
		}
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default()
	cfg.Sink = "kafka"
	if _, err := NewService(cfg, &syncBuffer{}, "test"); err == nil {
		t.Fatalf("expected invalid sink error")
	}
}
