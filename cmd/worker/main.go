package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/skalaliya/agent.algorythmos/internal/bootstrap"
)

func main() {
	cmd := bootstrap.NewCommand("worker", "Execute queued workflow runs", func(ctx context.Context, cmd *cobra.Command, c *bootstrap.Components) error {
		worker, err := c.Worker(ctx)
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = worker.Stop(stopCtx)
		}()

		c.Logger.Info("worker started",
			slog.String("queue", c.Config.Queue.Name),
			slog.Int("concurrency", c.Config.Queue.Concurrency),
		)
		err = worker.ProcessJobs([]string{c.Config.Queue.Name})
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		c.Logger.Info("worker stopped")
		return err
	})

	bootstrap.Execute(cmd)
}
