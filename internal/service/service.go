// Package service wires the beats server, its event sink and the admin
// surface into one runnable process.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/config"
	"github.com/danmuck/beatsd/internal/listener"
	"github.com/danmuck/beatsd/internal/observability"
	"github.com/danmuck/beatsd/internal/server"
)

type Service struct {
	cfg      config.Config
	beats    *beats.Server
	admin    *server.Server
	pipeline *listener.Pipeline
	log      zerolog.Logger
}

// NewService builds the runtime from cfg. Events go to out when the sink
// is stdout.
func NewService(cfg config.Config, out io.Writer, version string) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.RegisterMetrics()

	s := &Service{
		cfg: cfg,
		log: observability.ComponentLogger("service"),
	}
	var l beats.Listener
	switch cfg.Sink {
	case config.SinkStdout:
		s.pipeline = listener.NewPipeline(cfg.Pipeline, listener.NewJSONLines(out))
		l = s.pipeline
	case config.SinkDiscard:
		l = listener.NewDirect(listener.Discard{})
	default:
		return nil, fmt.Errorf("%w: sink %q", config.ErrInvalid, cfg.Sink)
	}
	s.beats = beats.NewServer(cfg.Server, l)
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		s.admin = server.New(server.Config{
			Addr:        cfg.AdminAddr,
			Token:       cfg.AdminToken,
			CORSOrigins: cfg.CORSOrigins,
			Version:     version,
		}, s.beats)
	}
	return s, nil
}

func (s *Service) Beats() *beats.Server {
	return s.beats
}

// Run listens on the configured addresses and blocks until SIGINT or
// SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := s.beats.Listen()
	if err != nil {
		return fmt.Errorf("beats listen: %w", err)
	}
	var adminLn net.Listener
	if s.admin != nil {
		if adminLn, err = net.Listen("tcp", s.cfg.AdminAddr); err != nil {
			_ = ln.Close()
			return fmt.Errorf("admin listen: %w", err)
		}
	}
	return s.Serve(ctx, ln, adminLn)
}

// Serve runs the beats server on ln and, when configured, the admin
// surface on adminLn. It returns once both have stopped and queued events
// have drained to the sink.
func (s *Service) Serve(ctx context.Context, ln, adminLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	beatsErr := make(chan error, 1)
	adminErr := make(chan error, 1)
	go func() {
		beatsErr <- s.beats.Serve(ctx, ln)
	}()
	if s.admin != nil && adminLn != nil {
		go func() {
			adminErr <- s.admin.Serve(ctx, adminLn)
		}()
	} else {
		adminErr <- nil
	}

	var errs []error
	select {
	case err := <-beatsErr:
		cancel()
		errs = append(errs, wrap("beats", err), wrap("admin", <-adminErr))
	case err := <-adminErr:
		cancel()
		errs = append(errs, wrap("admin", err), wrap("beats", <-beatsErr))
	}
	if s.pipeline != nil {
		s.pipeline.Close()
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.Error().Err(err).Msg("service stopped")
	} else {
		s.log.Info().Msg("service stopped")
	}
	return err
}

func wrap(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}
