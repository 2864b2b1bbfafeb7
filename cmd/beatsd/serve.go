package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/beatsd/internal/logging"
	"github.com/danmuck/beatsd/internal/service"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		listenAddr string
		adminAddr  string
		sink       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the beats receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminAddr = adminAddr
			}
			if cmd.Flags().Changed("sink") {
				cfg.Sink = sink
			}
			logging.ConfigureWith(cfg.Log)

			svc, err := service.NewService(cfg, os.Stdout, version)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "beats listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin HTTP address (overrides admin_addr)")
	cmd.Flags().StringVar(&sink, "sink", "", "event sink: stdout|discard (overrides sink)")
	return cmd
}
