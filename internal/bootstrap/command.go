package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skalaliya/agent.algorythmos/internal/config"
	"github.com/skalaliya/agent.algorythmos/internal/logging"
)

// RunFunc is the body of a binary. ctx is cancelled on SIGINT or SIGTERM.
type RunFunc func(ctx context.Context, cmd *cobra.Command, c *Components) error

// NewCommand builds a cobra command that loads --config, opens the
// components and calls run.
func NewCommand(use, short string, run RunFunc) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log.Level, cfg.Log.Format).With("service", use)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			components, err := Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			return run(ctx, cmd, components)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to a YAML config file")
	return cmd
}

// Execute runs cmd and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
