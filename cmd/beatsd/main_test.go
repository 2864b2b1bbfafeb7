package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/config"
	"github.com/danmuck/beatsd/internal/protocol"
	"github.com/danmuck/beatsd/internal/protocol/batch"
	"github.com/danmuck/beatsd/internal/testutil/testlog"
)

func TestReadEventsParsesJSONAndPlainLines(t *testing.T) {
	testlog.Start(t)

	in := strings.NewReader("{\"message\":\"a\",\"n\":1}\n\n  plain text  \n{broken\n")
	events, err := readEvents(in)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0]["message"] != "a" || events[0]["n"] != float64(1) {
		t.Fatalf("unexpected json event: %+v", events[0])
	}
	if events[1]["message"] != "plain text" {
		t.Fatalf("unexpected plain event: %+v", events[1])
	}
	if events[2]["message"] != "{broken" {
		t.Fatalf("unexpected malformed event: %+v", events[2])
	}
}

func TestSendOptionsRejectUnknownProtocol(t *testing.T) {
	testlog.Start(t)

	so := &sendOptions{addr: "127.0.0.1:1", proto: 3}
	if _, err := so.clientConfig(); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

type countingListener struct {
	beats.NopListener
	messages chan string
}

func (l *countingListener) OnNewMessage(_ *beats.Conn, m *batch.Message) error {
	data, err := m.Payload()
	if err != nil {
		return err
	}
	l.messages <- data["message"].(string)
	return nil
}

func TestSendPublishesInBatches(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l := &countingListener{messages: make(chan string, 8)}
	srv := beats.NewServer(beats.DefaultConfig(), l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"send", "--addr", ln.Addr().String(), "--protocol", "1", "--batch-size", "2", "a", "b", "c"})
	if err := root.Execute(); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := strings.Count(out.String(), "acked"); got != 2 {
		t.Fatalf("expected 2 acked batches, got %d: %q", got, out.String())
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := <-l.messages; got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestConfigTemplateThenValidate(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "beatsd.toml")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "template", "-o", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("template: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	root = newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "validate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "validated") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	testlog.Start(t)

	t.Chdir(t.TempDir())
	root := newRootCmd()
	opts := &rootOptions{configPath: defaultConfigPath, logLevel: "debug"}
	cfg, err := opts.loadConfig(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != config.Default().Server.ListenAddr {
		t.Fatalf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}

	opts.configPath = "missing.toml"
	root.PersistentFlags().Set("config", "missing.toml")
	if _, err := opts.loadConfig(root); err == nil {
		t.Fatalf("expected error for an explicit missing config")
	}
}
