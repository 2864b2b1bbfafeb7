// Package config loads beatsd.toml onto defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/listener"
	"github.com/danmuck/beatsd/internal/logging"
	"github.com/danmuck/beatsd/internal/protocol/session"
)

const (
	SinkStdout  = "stdout"
	SinkDiscard = "discard"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	Server      beats.Config
	AdminAddr   string
	AdminToken  string
	CORSOrigins []string
	Sink        string
	Pipeline    listener.PipelineConfig
	Log         logging.Config
}

func Default() Config {
	return Config{
		Server:   beats.DefaultConfig(),
		Sink:     SinkStdout,
		Pipeline: listener.DefaultPipelineConfig(),
		Log:      logging.DefaultConfig(logging.ProfileRuntime),
	}
}

// fileConfig mirrors beatsd.toml. Sizes and durations stay strings so
// "10MiB" and "60s" read naturally.
type fileConfig struct {
	ListenAddr              string   `toml:"listen_addr"`
	AdminAddr               string   `toml:"admin_addr"`
	AdminToken              string   `toml:"admin_token"`
	CORSOrigins             []string `toml:"cors_origins"`
	MaxFrameSize            string   `toml:"max_frame_size"`
	MaxInflateSize          string   `toml:"max_inflate_size"`
	MaxWindowSize           int64    `toml:"max_window_size"`
	ClientInactivityTimeout string   `toml:"client_inactivity_timeout"`
	KeepAliveInterval       string   `toml:"keep_alive_interval"`
	WriteTimeout            string   `toml:"write_timeout"`
	HandshakeTimeout        string   `toml:"handshake_timeout"`
	Sink                    string   `toml:"sink"`
	QueueSize               int      `toml:"queue_size"`
	Workers                 int      `toml:"workers"`
	EnqueueTimeout          string   `toml:"enqueue_timeout"`
	TLS                     fileTLS  `toml:"tls"`
	Log                     fileLog  `toml:"log"`
}

type fileTLS struct {
	Enabled      bool   `toml:"enabled"`
	CertFile     string `toml:"cert_file"`
	KeyFile      string `toml:"key_file"`
	CAFile       string `toml:"ca_file"`
	VerifyMode   string `toml:"verify_mode"`
	SecurityMode string `toml:"security_mode"`
}

type fileLog struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
	Format    string `toml:"format"`
}

// Load decodes path and overlays every key it defines onto Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	srv := &cfg.Server
	sess := &srv.Session

	if meta.IsDefined("listen_addr") {
		srv.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("max_frame_size") {
		n, err := parseSize("max_frame_size", raw.MaxFrameSize, math.MaxUint32)
		if err != nil {
			return cfg, err
		}
		srv.Limits.MaxFrameBytes = uint32(n)
	}
	if meta.IsDefined("max_inflate_size") {
		n, err := parseSize("max_inflate_size", raw.MaxInflateSize, math.MaxInt64)
		if err != nil {
			return cfg, err
		}
		srv.Limits.MaxInflateBytes = int64(n)
	}
	if meta.IsDefined("max_window_size") {
		if raw.MaxWindowSize <= 0 || raw.MaxWindowSize > math.MaxUint32 {
			return cfg, fmt.Errorf("%w: max_window_size %d", ErrInvalid, raw.MaxWindowSize)
		}
		srv.Limits.MaxWindowSize = uint32(raw.MaxWindowSize)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"client_inactivity_timeout", raw.ClientInactivityTimeout, &sess.ClientInactivityTimeout},
		{"keep_alive_interval", raw.KeepAliveInterval, &sess.KeepAliveInterval},
		{"write_timeout", raw.WriteTimeout, &sess.WriteTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &sess.HandshakeTimeout},
		{"enqueue_timeout", raw.EnqueueTimeout, &cfg.Pipeline.EnqueueTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v < 0 {
			return cfg, fmt.Errorf("%w: %s %q", ErrInvalid, d.key, d.raw)
		}
		*d.dst = v
	}

	if meta.IsDefined("sink") {
		cfg.Sink = strings.ToLower(strings.TrimSpace(raw.Sink))
	}
	if meta.IsDefined("queue_size") {
		cfg.Pipeline.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("workers") {
		cfg.Pipeline.Workers = raw.Workers
	}

	if meta.IsDefined("tls", "enabled") {
		sess.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "cert_file") {
		sess.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		sess.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		sess.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "verify_mode") {
		sess.TLS.VerifyMode = session.NormalizeVerifyMode(session.VerifyMode(raw.TLS.VerifyMode))
	}
	if meta.IsDefined("tls", "security_mode") {
		sess.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.TLS.SecurityMode))
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return cfg, fmt.Errorf("%w: log.level %q", ErrInvalid, raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("log", "format") {
		switch strings.ToLower(strings.TrimSpace(raw.Log.Format)) {
		case "json":
			cfg.Log.JSON = true
		case "console", "":
			cfg.Log.JSON = false
		default:
			return cfg, fmt.Errorf("%w: log.format %q", ErrInvalid, raw.Log.Format)
		}
	}
	return cfg, nil
}

func parseSize(key, raw string, limit uint64) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, raw, err)
	}
	if n == 0 || n > limit {
		return 0, fmt.Errorf("%w: %s %q out of range", ErrInvalid, key, raw)
	}
	return n, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	switch c.Sink {
	case SinkStdout, SinkDiscard:
	default:
		return fmt.Errorf("%w: sink %q (expected %s or %s)", ErrInvalid, c.Sink, SinkStdout, SinkDiscard)
	}
	if c.Pipeline.QueueSize < 0 || c.Pipeline.Workers < 0 {
		return fmt.Errorf("%w: queue_size and workers must not be negative", ErrInvalid)
	}
	if c.AdminToken != "" && strings.TrimSpace(c.AdminAddr) == "" {
		return fmt.Errorf("%w: admin_token set without admin_addr", ErrInvalid)
	}
	if err := c.Server.Session.ValidateServerTransport(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
