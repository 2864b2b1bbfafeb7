package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/beatsd/internal/config"
	"github.com/danmuck/beatsd/internal/logging"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

const defaultConfigPath = "beatsd.toml"

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beatsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "beatsd",
		Short: "Lumberjack/Beats protocol receiver",
		Long: `beatsd accepts batches from Beats shippers over the Lumberjack
protocol (v1 and v2, optionally zlib compressed, optionally TLS),
acknowledges each batch once it is delivered and writes the events
to a sink.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to beatsd.toml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (trace|debug|info|warn|error)")

	root.AddCommand(
		serveCmd(opts),
		sendCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return root
}

// loadConfig reads the config file. A missing file at the default path
// falls back to defaults so a bare `beatsd serve` works.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if f := cmd.Flag("config"); errors.Is(err, fs.ErrNotExist) && (f == nil || !f.Changed) {
			cfg = config.Default()
		} else {
			return config.Config{}, err
		}
	}
	if o.logLevel != "" {
		lvl, ok := logging.ParseLevel(o.logLevel)
		if !ok {
			return config.Config{}, fmt.Errorf("%w: log level %q", config.ErrInvalid, o.logLevel)
		}
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "beatsd %s (%s)\n", version, commit)
		},
	}
}
