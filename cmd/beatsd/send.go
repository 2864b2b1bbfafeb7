package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danmuck/beatsd/internal/client"
	"github.com/danmuck/beatsd/internal/logging"
	"github.com/danmuck/beatsd/internal/protocol"
)

type sendOptions struct {
	addr       string
	proto      int
	compress   bool
	batchSize  int
	timeout    time.Duration
	tls        bool
	caFile     string
	certFile   string
	keyFile    string
	serverName string
	insecure   bool
}

func sendCmd(opts *rootOptions) *cobra.Command {
	so := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Publish events to a beats receiver",
		Long: `Publish events to a beats receiver and wait for each batch ack.

Each argument is one event. With no arguments events are read from
stdin, one per line. A line holding a JSON object is sent as-is; any
other line becomes {"message": line}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig(logging.ProfileRuntime)
			if opts.logLevel != "" {
				if lvl, ok := logging.ParseLevel(opts.logLevel); ok {
					cfg.Level = lvl
				}
			}
			logging.ConfigureWith(cfg)

			var events []map[string]any
			var err error
			if len(args) > 0 {
				events = make([]map[string]any, 0, len(args))
				for _, a := range args {
					events = append(events, parseEvent(a))
				}
			} else if events, err = readEvents(cmd.InOrStdin()); err != nil {
				return err
			}
			return so.run(cmd.Context(), cmd.OutOrStdout(), events)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", "127.0.0.1:5044", "receiver address")
	f.IntVar(&so.proto, "protocol", 2, "lumberjack protocol version (1|2)")
	f.BoolVar(&so.compress, "compress", true, "wrap batches in a compressed frame")
	f.IntVar(&so.batchSize, "batch-size", 1024, "events per batch")
	f.DurationVar(&so.timeout, "timeout", 30*time.Second, "overall send timeout")
	so.addTLSFlags(f)
	return cmd
}

func (so *sendOptions) addTLSFlags(f *pflag.FlagSet) {
	f.BoolVar(&so.tls, "tls", false, "connect with TLS")
	f.StringVar(&so.caFile, "ca", "", "CA bundle for verifying the receiver")
	f.StringVar(&so.certFile, "cert", "", "client certificate for mutual TLS")
	f.StringVar(&so.keyFile, "key", "", "client key for mutual TLS")
	f.StringVar(&so.serverName, "server-name", "", "TLS server name (defaults to the address host)")
	f.BoolVar(&so.insecure, "insecure", false, "skip receiver certificate verification")
}

func (so *sendOptions) clientConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Address = so.addr
	cfg.Compress = so.compress
	switch so.proto {
	case 1:
		cfg.Version = protocol.Version1
	case 2:
		cfg.Version = protocol.Version2
	default:
		return client.Config{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedVersion, so.proto)
	}
	cfg.Session.TLS.Enabled = so.tls
	cfg.Session.TLS.CAFile = so.caFile
	cfg.Session.TLS.CertFile = so.certFile
	cfg.Session.TLS.KeyFile = so.keyFile
	cfg.Session.TLS.ServerName = so.serverName
	cfg.Session.TLS.InsecureSkipVerify = so.insecure
	cfg.MaxConnectAttempts = 5
	return cfg, nil
}

func (so *sendOptions) run(ctx context.Context, out io.Writer, events []map[string]any) error {
	if len(events) == 0 {
		return client.ErrNoEvents
	}
	cfg, err := so.clientConfig()
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, so.timeout)
	defer cancel()

	size := max(so.batchSize, 1)
	for start := 0; start < len(events); start += size {
		chunk := events[start:min(start+size, len(events))]
		acked, err := c.Publish(ctx, chunk)
		if err != nil {
			return fmt.Errorf("publish events %d-%d: %w", start+1, start+len(chunk), err)
		}
		fmt.Fprintf(out, "acked %d events (sequence %d)\n", len(chunk), acked)
	}
	return nil
}

// readEvents reads one event per non-blank line.
func readEvents(r io.Reader) ([]map[string]any, error) {
	var events []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		events = append(events, parseEvent(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func parseEvent(raw string) map[string]any {
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"message": raw}
}
