package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skalaliya/agent.algorythmos/internal/bootstrap"
)

func main() {
	cmd := bootstrap.NewCommand("scheduler", "Start runs for scheduled workflows", func(ctx context.Context, cmd *cobra.Command, c *bootstrap.Components) error {
		c.Logger.Info("scheduler started",
			slog.Duration("tick", c.Config.Scheduler.Tick),
			slog.Duration("tolerance", c.Config.Scheduler.Tolerance),
			slog.Bool("watermark", c.Config.Scheduler.Watermark),
		)
		if err := c.SchedulerRunner().Start(ctx); err != nil {
			return err
		}
		c.Logger.Info("scheduler stopped")
		return nil
	})

	bootstrap.Execute(cmd)
}
